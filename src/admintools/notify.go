package admintools

import (
	"context"
	"fmt"
	"strconv"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/email"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	"git.handmade.network/hmn/forumdb/src/forumdata"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/spf13/cobra"
)

func init() {
	forumctl.Command.AddCommand(&cobra.Command{
		Use:   "notify [message id]",
		Short: "Mail a message to the users subscribed to its thread or forum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid message id %q", args[0])
			}

			return runMaintenance("notify", func(ctx context.Context, store *forumdata.Store) error {
				msg, err := store.GetMessage(ctx, forumdata.Scope{}, messageID)
				if err != nil {
					return err
				}
				if msg.Status != models.MessageStatusApproved {
					return oops.New(nil, "message %d is not approved", messageID)
				}
				forum, err := store.GetForum(ctx, msg.ForumID)
				if err != nil {
					return err
				}

				recipients := store.GetSubscribedUsers(ctx, msg.ForumID, msg.Thread, models.SubscriptionMessage, msg.UserID)
				sent, err := email.SendSubscriptionNotices(ctx, config.Config.Email, recipients, email.NoticeDataFor(forum, msg))
				fmt.Printf("Sent %d notices\n", sent)
				return err
			})
		},
	})
}
