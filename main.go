package main

import (
	"os"

	_ "git.handmade.network/hmn/forumdb/src/admintools"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	_ "git.handmade.network/hmn/forumdb/src/migration"
)

func main() {
	if err := forumctl.Command.Execute(); err != nil {
		os.Exit(1)
	}
}
