package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/cartstore/internal/auth"
	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/identity"
	"github.com/vladislavdragonenkov/cartstore/internal/version"
)

type loginOptions struct {
	user    string
	authURL string
	signup  bool
	creds   domain.Credentials
}

func newLoginCmd(opts *cliOptions) *cobra.Command {
	lo := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and merge the anonymous cart into the user cart",
		Long: `Sign in either with a ready user record (--user '{"id":42}')
or through the auth service (--auth-url with --username and --password).
A cart collected anonymously is merged into the user cart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCart(opts, func(env *cartEnv) error {
				var (
					lines []domain.CartLine
					err   error
				)
				switch {
				case strings.TrimSpace(lo.user) != "":
					lines, err = signInWithRecord(env, []byte(lo.user))
				case strings.TrimSpace(lo.authURL) != "":
					lines, err = signInWithService(cmd, env, lo)
				default:
					return fmt.Errorf("either --user or --auth-url is required")
				}
				if err != nil {
					return err
				}
				printCart(cmd.OutOrStdout(), env.store.Identity(), lines)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&lo.user, "user", "", "user record JSON with id, userId or _id")
	cmd.Flags().StringVar(&lo.authURL, "auth-url", "", "auth service base url (env CART_AUTH_URL)")
	cmd.Flags().BoolVar(&lo.signup, "signup", false, "register instead of logging in")
	cmd.Flags().StringVar(&lo.creds.Username, "username", "", "username")
	cmd.Flags().StringVar(&lo.creds.Email, "email", "", "email, required for --signup")
	cmd.Flags().StringVar(&lo.creds.Password, "password", "", "password")
	return cmd
}

// signInWithRecord сохраняет готовую запись пользователя с тем же порядком шагов, что и Session.
func signInWithRecord(env *cartEnv, raw []byte) ([]domain.CartLine, error) {
	target, ok := identity.ParseUserRecord(raw)
	if !ok {
		return nil, domain.ErrUserRecordInvalid
	}
	commit := func() error {
		_, err := identity.SaveUserRecord(env.kv, raw)
		return err
	}

	if env.store.Identity().IsAnonymous() {
		return env.merge.SignIn(target, commit)
	}
	if err := commit(); err != nil {
		return nil, err
	}
	env.store.Notify()
	return env.store.Read(), nil
}

func signInWithService(cmd *cobra.Command, env *cartEnv, lo *loginOptions) ([]domain.CartLine, error) {
	client, err := auth.NewClient(lo.authURL,
		auth.WithLogger(env.logger.WithField("component", "auth-client")),
		auth.WithUserAgent(version.UserAgent()),
	)
	if err != nil {
		return nil, err
	}

	mode := auth.ModeLogin
	if lo.signup {
		mode = auth.ModeSignup
	}
	session := auth.NewSession(client, env.kv, env.store, env.merge, env.logger.WithField("component", "auth-session"))
	_, lines, err := session.SignIn(cmd.Context(), mode, lo.creds)
	return lines, err
}

func newLogoutCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the signed-in user; the anonymous cart becomes current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCart(opts, func(env *cartEnv) error {
				if err := identity.ClearUserRecord(env.kv); err != nil {
					return err
				}
				env.store.Notify()
				printCart(cmd.OutOrStdout(), env.store.Identity(), env.store.Read())
				return nil
			})
		},
	}
}
