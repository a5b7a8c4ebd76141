package version

import "fmt"

// Service — имя сервиса в логах, health-ответах и User-Agent.
const Service = "storefront-cart"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает commit сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", Service, version, commit, date)
}

// UserAgent — значение заголовка User-Agent для исходящих запросов к каталогу и аутентификации.
func UserAgent() string {
	return Service + "/" + version
}
