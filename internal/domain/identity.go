package domain

const (
	// CartKeyPrefix — префикс ключа корзины в key-value хранилище.
	CartKeyPrefix = "cart_local_"
	// UserRecordKey — ключ, под которым сервис аутентификации хранит текущего пользователя.
	UserRecordKey = "user"
)

// Identity — владелец корзины: конкретный пользователь или анонимный посетитель.
type Identity string

// AnonymousIdentity — служебное значение для корзины до входа в систему.
const AnonymousIdentity Identity = "anon"

// IsAnonymous сообщает, что идентичность анонимная (пустое значение тоже считается анонимным).
func (i Identity) IsAnonymous() bool {
	return i == "" || i == AnonymousIdentity
}

// String возвращает идентичность в виде строки; пустая превращается в анонимную.
func (i Identity) String() string {
	if i == "" {
		return string(AnonymousIdentity)
	}
	return string(i)
}

// CartKey строит детерминированный ключ корзины для идентичности.
func CartKey(identity Identity) string {
	return CartKeyPrefix + identity.String()
}

// AnonymousCartKey — ключ анонимной корзины.
func AnonymousCartKey() string {
	return CartKey(AnonymousIdentity)
}
