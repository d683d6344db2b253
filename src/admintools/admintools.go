package admintools

import (
	"context"
	"errors"
	"fmt"

	"git.handmade.network/hmn/forumdb/src/auth"
	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/filestore"
	"git.handmade.network/hmn/forumdb/src/forumcache"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	"git.handmade.network/hmn/forumdb/src/forumdata"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"git.handmade.network/hmn/forumdb/src/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var adminCommand = &cobra.Command{
	Use:   "admin",
	Short: "Miscellaneous admin commands",
}

func init() {
	forumctl.Command.AddCommand(adminCommand)

	setPasswordCommand := &cobra.Command{
		Use:   "setpassword [username] [new password]",
		Short: "Replace a user's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer utils.RecoverPanicAsError(&err)

			ctx, store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			user, err := store.GetUserByName(ctx, args[0])
			if err != nil {
				return err
			}
			store.SetUserPassword(ctx, user.ID, args[1])

			fmt.Printf("Successfully updated password for '%s'\n", user.Username)
			return nil
		},
	}
	adminCommand.AddCommand(setPasswordCommand)

	createUserCommand := &cobra.Command{
		Use:   "createuser [username]",
		Short: "Creates a new active user with the password 'password'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer utils.RecoverPanicAsError(&err)

			ctx, store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			username := args[0]
			password := "password"

			id, err := store.AddUser(ctx, &models.User{
				Username: username,
				Email:    uuid.New().String() + "@example.com",
				Password: auth.HashPassword(password).String(),
				Status:   models.UserStatusActive,
			})
			if errors.Is(err, forumdata.ErrUsernameTaken) {
				return fmt.Errorf("%s already exists. Please pick a different username", username)
			} else if err != nil {
				return err
			}

			fmt.Printf("New user added!\nID: %d\nUsername: %s\nPassword: %s\n", id, username, password)
			fmt.Printf("You can set the user as admin with the following command:\n")
			fmt.Printf("admin usersetadmin %s true\n", username)
			return nil
		},
	}
	adminCommand.AddCommand(createUserCommand)

	userSetAdminCommand := &cobra.Command{
		Use:   "usersetadmin [username] [true/false]",
		Short: "Toggle the user's admin privileges",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer utils.RecoverPanicAsError(&err)

			ctx, store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			makeAdmin := args[1] == "true"
			user, err := store.GetUserByName(ctx, args[0])
			if err != nil {
				return err
			}
			err = store.SaveUser(ctx, forumdata.UserUpdate{
				UserID: user.ID,
				Fields: map[string]any{"admin": makeAdmin},
			})
			if err != nil {
				return err
			}

			fmt.Printf("Successfully set %s's admin flag to %v\n\n", user.Username, makeAdmin)
			return nil
		},
	}
	adminCommand.AddCommand(userSetAdminCommand)

	userStatusCommand := &cobra.Command{
		Use:   "userstatus [username] [pending|inactive|active]",
		Short: "Set a user's status manually",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer utils.RecoverPanicAsError(&err)

			var status models.UserStatus
			switch args[1] {
			case "pending":
				status = models.UserStatusPending
			case "inactive":
				status = models.UserStatusInactive
			case "active":
				status = models.UserStatusActive
			default:
				return fmt.Errorf("unknown status %q; use pending, inactive or active", args[1])
			}

			ctx, store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			user, err := store.GetUserByName(ctx, args[0])
			if err != nil {
				return err
			}
			err = store.SaveUser(ctx, forumdata.UserUpdate{
				UserID: user.ID,
				Fields: map[string]any{"active": status},
			})
			if err != nil {
				return err
			}

			fmt.Printf("%s is now %s\n\n", user.Username, args[1])
			return nil
		},
	}
	adminCommand.AddCommand(userStatusCommand)
}

/*
Opens a store for the configured installation, with the redis page cache and
file backend the config asks for. The returned context carries the global
logger; done closes the connection.
*/
func openStore() (context.Context, *forumdata.Store, func(), error) {
	ctx := logging.AttachLoggerToContext(logging.GlobalLogger(), context.Background())

	gw, tables, closeGateway, err := forumctl.Open(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	files, err := filestore.New(ctx, config.Config.Files, gw, tables)
	if err != nil {
		closeGateway()
		return nil, nil, nil, oops.New(err, "failed to set up file storage")
	}

	store, err := forumdata.New(gw, config.Config.Forum,
		forumdata.WithCache(forumcache.New(config.Config.Redis, tables.Prefix)),
		forumdata.WithFileStore(files),
	)
	if err != nil {
		closeGateway()
		return nil, nil, nil, err
	}
	return ctx, store, closeGateway, nil
}
