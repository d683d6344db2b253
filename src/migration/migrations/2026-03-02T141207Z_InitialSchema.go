package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(InitialSchema{})
}

type InitialSchema struct{}

func (m InitialSchema) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 3, 2, 14, 12, 7, 0, time.UTC))
}

func (m InitialSchema) Name() string {
	return "InitialSchema"
}

func (m InitialSchema) Description() string {
	return "Create the forum tables"
}

func (m InitialSchema) Up(ctx context.Context, tx pgx.Tx, tables db.Tables) error {
	return execAll(ctx, tx, tables,
		`
		CREATE TABLE {forums} (
			forum_id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			parent_id INT NOT NULL DEFAULT 0,
			vroot INT NOT NULL DEFAULT 0,
			inherit_id INT,
			folder_flag BOOLEAN NOT NULL DEFAULT FALSE,
			display_order INT NOT NULL DEFAULT 0,
			float_to_top BOOLEAN NOT NULL DEFAULT FALSE,
			threaded_list BOOLEAN NOT NULL DEFAULT FALSE,
			threaded_read BOOLEAN NOT NULL DEFAULT FALSE,
			reverse_threading BOOLEAN NOT NULL DEFAULT FALSE,
			list_length_flat INT NOT NULL DEFAULT 0,
			list_length_threaded INT NOT NULL DEFAULT 0,
			read_length INT NOT NULL DEFAULT 0,
			pub_perms INT NOT NULL DEFAULT 0,
			reg_perms INT NOT NULL DEFAULT 0,
			message_count INT NOT NULL DEFAULT 0,
			thread_count INT NOT NULL DEFAULT 0,
			sticky_count INT NOT NULL DEFAULT 0,
			last_post_time TIMESTAMP WITH TIME ZONE,
			cache_version INT NOT NULL DEFAULT 0
		);
		`,
		`CREATE INDEX ON {forums} (parent_id, display_order);`,
		`
		CREATE TABLE {messages} (
			message_id SERIAL PRIMARY KEY,
			forum_id INT NOT NULL DEFAULT 0,
			thread INT NOT NULL DEFAULT 0,
			parent_id INT NOT NULL DEFAULT 0,
			user_id INT NOT NULL DEFAULT 0,
			author VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			ip VARCHAR(255) NOT NULL DEFAULT '',
			subject VARCHAR(255) NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			msgid VARCHAR(255) NOT NULL DEFAULT '',
			status INT NOT NULL DEFAULT 2,
			sort INT NOT NULL DEFAULT 2,
			moderator_post BOOLEAN NOT NULL DEFAULT FALSE,
			closed BOOLEAN NOT NULL DEFAULT FALSE,
			datestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			modifystamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			thread_count INT NOT NULL DEFAULT 0,
			viewcount INT NOT NULL DEFAULT 0,
			meta BYTEA
		);
		`,
		`CREATE INDEX ON {messages} (forum_id, status, sort, thread);`,
		`CREATE INDEX ON {messages} (thread, message_id);`,
		`CREATE INDEX ON {messages} (parent_id);`,
		`CREATE INDEX ON {messages} (user_id);`,
		`CREATE INDEX ON {messages} (datestamp);`,
		`CREATE INDEX ON {messages} (forum_id, modifystamp);`,
		`
		CREATE TABLE {search} (
			message_id INT PRIMARY KEY,
			forum_id INT NOT NULL DEFAULT 0,
			search_text TEXT NOT NULL DEFAULT ''
		);
		`,
		`CREATE INDEX ON {search} (forum_id);`,
		`
		CREATE TABLE {users} (
			user_id SERIAL PRIMARY KEY,
			username VARCHAR(255) NOT NULL UNIQUE,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			password VARCHAR(255) NOT NULL DEFAULT '',
			user_language VARCHAR(100) NOT NULL DEFAULT '',
			admin BOOLEAN NOT NULL DEFAULT FALSE,
			active INT NOT NULL DEFAULT 0,
			posts INT NOT NULL DEFAULT 0,
			date_added TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			date_last_active TIMESTAMP WITH TIME ZONE,
			settings_data BYTEA
		);
		`,
		`CREATE INDEX ON {users} (email);`,
		`CREATE INDEX ON {users} (active);`,
		`
		CREATE TABLE {user_permissions} (
			user_id INT NOT NULL,
			forum_id INT NOT NULL,
			permission INT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, forum_id)
		);
		`,
		`CREATE INDEX ON {user_permissions} (forum_id);`,
		`
		CREATE TABLE {user_custom_fields} (
			user_id INT NOT NULL,
			type INT NOT NULL,
			data TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, type)
		);
		`,
		`
		CREATE TABLE {groups} (
			group_id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			open INT NOT NULL DEFAULT 0
		);
		`,
		`
		CREATE TABLE {forum_group_xref} (
			forum_id INT NOT NULL,
			group_id INT NOT NULL,
			permission INT NOT NULL DEFAULT 0,
			PRIMARY KEY (forum_id, group_id)
		);
		`,
		`CREATE INDEX ON {forum_group_xref} (group_id);`,
		`
		CREATE TABLE {user_group_xref} (
			user_id INT NOT NULL,
			group_id INT NOT NULL,
			status INT NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, group_id)
		);
		`,
		`CREATE INDEX ON {user_group_xref} (group_id);`,
		`
		CREATE TABLE {user_newflags} (
			user_id INT NOT NULL,
			forum_id INT NOT NULL,
			message_id INT NOT NULL,
			PRIMARY KEY (user_id, forum_id, message_id)
		);
		`,
		`CREATE INDEX ON {user_newflags} (message_id);`,
		`
		CREATE TABLE {subscribers} (
			user_id INT NOT NULL,
			forum_id INT NOT NULL,
			thread INT NOT NULL DEFAULT 0,
			sub_type INT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, forum_id, thread)
		);
		`,
		`CREATE INDEX ON {subscribers} (forum_id, thread, sub_type);`,
		`
		CREATE TABLE {files} (
			file_id SERIAL PRIMARY KEY,
			user_id INT NOT NULL DEFAULT 0,
			message_id INT NOT NULL DEFAULT 0,
			link VARCHAR(10) NOT NULL DEFAULT '',
			filename VARCHAR(255) NOT NULL DEFAULT '',
			filesize BIGINT NOT NULL DEFAULT 0,
			add_datetime TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			file_data BYTEA
		);
		`,
		`CREATE INDEX ON {files} (user_id, link);`,
		`CREATE INDEX ON {files} (message_id, link);`,
		`CREATE INDEX ON {files} (link, add_datetime);`,
		`
		CREATE TABLE {settings} (
			name VARCHAR(255) PRIMARY KEY,
			type CHAR(1) NOT NULL DEFAULT 'V',
			data BYTEA
		);
		`,
		`
		CREATE TABLE {banlists} (
			id SERIAL PRIMARY KEY,
			forum_id INT NOT NULL DEFAULT 0,
			type INT NOT NULL DEFAULT 0,
			pcre BOOLEAN NOT NULL DEFAULT FALSE,
			string VARCHAR(255) NOT NULL DEFAULT '',
			comments TEXT NOT NULL DEFAULT ''
		);
		`,
		`CREATE INDEX ON {banlists} (forum_id, type);`,
		`
		CREATE TABLE {pm_messages} (
			pm_message_id SERIAL PRIMARY KEY,
			user_id INT NOT NULL DEFAULT 0,
			author VARCHAR(255) NOT NULL DEFAULT '',
			subject VARCHAR(100) NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			datestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			meta BYTEA
		);
		`,
		`
		CREATE TABLE {pm_folders} (
			pm_folder_id SERIAL PRIMARY KEY,
			user_id INT NOT NULL,
			foldername VARCHAR(20) NOT NULL DEFAULT ''
		);
		`,
		`
		CREATE TABLE {pm_xref} (
			pm_xref_id SERIAL PRIMARY KEY,
			user_id INT NOT NULL,
			pm_folder_id INT NOT NULL DEFAULT 0,
			special_folder VARCHAR(10),
			pm_message_id INT NOT NULL,
			read_flag BOOLEAN NOT NULL DEFAULT FALSE,
			reply_flag BOOLEAN NOT NULL DEFAULT FALSE
		);
		`,
		`CREATE INDEX ON {pm_xref} (user_id, pm_folder_id);`,
		`CREATE INDEX ON {pm_xref} (pm_message_id);`,
		`
		CREATE TABLE {pm_buddies} (
			pm_buddy_id SERIAL PRIMARY KEY,
			user_id INT NOT NULL,
			buddy_user_id INT NOT NULL,
			UNIQUE (user_id, buddy_user_id)
		);
		`,
	)
}

func (m InitialSchema) Down(ctx context.Context, tx pgx.Tx, tables db.Tables) error {
	return execAll(ctx, tx, tables,
		`
		DROP TABLE
			{pm_buddies}, {pm_xref}, {pm_folders}, {pm_messages},
			{banlists}, {settings}, {files}, {subscribers}, {user_newflags},
			{user_group_xref}, {forum_group_xref}, {groups},
			{user_custom_fields}, {user_permissions}, {users},
			{search}, {messages}, {forums};
		`,
	)
}
