package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-ems-go/internal/user/repo"
)

func newUserCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserCreateCmd(rt), newUserSetPasswordCmd(rt), newUserSetStatusCmd(rt))
	return cmd
}

// withAuth runs fn against an AuthService bound to the database.
func withAuth(rt *runtime, fn func(*user.AuthService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := rt.db()
	if err != nil {
		return err
	}
	defer db.Close()
	svc := user.NewAuthService(userrepo.NewUserRepo(db), user.BcryptHasher{Cost: cfg.BcryptCost}, nil, nil, rt.sugar)
	return fn(svc)
}

// readPassword returns flag, or the first line of in when flag is empty.
func readPassword(flag string, in io.Reader) (string, error) {
	if flag != "" {
		return flag, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password required (--password or stdin)")
	}
	return pw, nil
}

func newUserCreateCmd(rt *runtime) *cobra.Command {
	var nu user.NewUser
	var role, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := entity.ParseRole(role)
			if err != nil {
				return err
			}
			nu.Role = r
			if nu.Password, err = readPassword(password, cmd.InOrStdin()); err != nil {
				return err
			}
			return withAuth(rt, func(svc *user.AuthService) error {
				id, err := svc.CreateUser(cmd.Context(), nu)
				if err != nil {
					return err
				}
				rt.sugar.Infow("user created", "id", id, "username", nu.Username, "role", nu.Role)
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&nu.Username, "username", "", "login name")
	cmd.Flags().StringVar(&nu.FullName, "full-name", "", "display name")
	cmd.Flags().StringVar(&nu.Email, "email", "", "contact address")
	cmd.Flags().StringVar(&role, "role", string(entity.RoleEmployee), "admin, manager or employee")
	cmd.Flags().StringVar(&password, "password", "", "initial password, read from stdin when empty")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUserSetPasswordCmd(rt *runtime) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "set-password <username>",
		Short: "Overwrite an account password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withAuth(rt, func(svc *user.AuthService) error {
				if err := svc.SetPassword(cmd.Context(), args[0], pw); err != nil {
					return err
				}
				rt.sugar.Infow("password reset", "username", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password, read from stdin when empty")
	return cmd
}

func newUserSetStatusCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <username> <active|inactive|suspended>",
		Short: "Enable or disable an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := entity.Status(strings.ToLower(args[1]))
			return withAuth(rt, func(svc *user.AuthService) error {
				if err := svc.SetStatus(cmd.Context(), args[0], status); err != nil {
					return err
				}
				rt.sugar.Infow("status changed", "username", args[0], "status", status)
				return nil
			})
		},
	}
}
