/*
Package email mails subscription notices about new messages to the
addresses forumdata.GetSubscribedUsers collects.
*/
package email

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/smtp"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"git.handmade.network/hmn/forumdb/src/perf"
	"github.com/microcosm-cc/bluemonday"
)

type NoticeData struct {
	ForumName string
	Subject   string
	Author    string
	Body      string
	MessageID int
	Thread    int
}

func NoticeDataFor(forum *models.Forum, msg *models.Message) NoticeData {
	return NoticeData{
		ForumName: forum.Name,
		Subject:   msg.Subject,
		Author:    msg.Author,
		Body:      msg.Body,
		MessageID: msg.ID,
		Thread:    msg.Thread,
	}
}

var noticeTemplate = template.Must(template.New("notice").Parse(
	`{{ .Author }} posted a new message in "{{ .Subject }}" ({{ .ForumName }}).

{{ .Body }}

--
You are receiving this because you subscribed to thread {{ .Thread }}.
`))

var bodyPolicy = bluemonday.StrictPolicy()

// Plain text notice. Markup in the message body is stripped.
func renderNotice(data NoticeData) (string, error) {
	data.Body = strings.TrimSpace(bodyPolicy.Sanitize(data.Body))

	var buffer bytes.Buffer
	if err := noticeTemplate.Execute(&buffer, data); err != nil {
		return "", oops.New(err, "failed to render subscription notice")
	}
	return strings.ReplaceAll(buffer.String(), "\n", "\r\n"), nil
}

/*
Mails a notice to each recipient, one mail per address so nobody sees the
others. Recipients come grouped by language; every language currently gets
the same text. Returns how many mails went out. Sending stops at the first
failure.
*/
func SendSubscriptionNotices(ctx context.Context, cfg config.EmailConfig, recipients map[string][]string, data NoticeData) (int, error) {
	if !cfg.Enabled() {
		logging.ExtractLogger(ctx).Debug().Msg("email disabled, skipping subscription notices")
		return 0, nil
	}

	defer perf.ExtractPerf(ctx).StartBlock("EMAIL", "Subscription notices").End()

	contents, err := renderNotice(data)
	if err != nil {
		return 0, err
	}
	subject := fmt.Sprintf("[%s] %s", data.ForumName, data.Subject)

	languages := make([]string, 0, len(recipients))
	for lang := range recipients {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	sent := 0
	for _, lang := range languages {
		for _, address := range recipients[lang] {
			if !IsEmail(address) {
				logging.ExtractLogger(ctx).Warn().Str("address", address).Msg("skipping invalid address")
				continue
			}
			if err := sendMail(cfg, address, "", subject, contents, time.Now()); err != nil {
				return sent, oops.New(err, "failed to send subscription notice")
			}
			sent++
		}
	}
	return sent, nil
}

var EmailRegex = regexp.MustCompile(`^[^:\p{Cc} ]+@[^:\p{Cc} ]+\.[^:\p{Cc} ]+$`)

func IsEmail(address string) bool {
	return EmailRegex.MatchString(address)
}

func sendMail(cfg config.EmailConfig, toAddress, toName, subject, contents string, now time.Time) error {
	if cfg.ForceToAddress != "" {
		toAddress = cfg.ForceToAddress
	}
	mail := prepMailContents(
		makeHeaderAddress(toAddress, toName),
		makeHeaderAddress(cfg.FromAddress, cfg.FromName),
		subject,
		contents,
		now,
	)

	var auth smtp.Auth
	if cfg.MailerUsername != "" {
		auth = smtp.PlainAuth("", cfg.MailerUsername, cfg.MailerPassword, cfg.ServerAddress)
	}
	return smtp.SendMail(
		fmt.Sprintf("%s:%d", cfg.ServerAddress, cfg.ServerPort),
		auth,
		cfg.FromAddress,
		[]string{toAddress},
		mail,
	)
}

func makeHeaderAddress(email, fullname string) string {
	if fullname != "" {
		encoded := mime.BEncoding.Encode("utf-8", fullname)
		if encoded == fullname {
			encoded = strings.ReplaceAll(encoded, `"`, `\"`)
			encoded = fmt.Sprintf("\"%s\"", encoded)
		}
		return fmt.Sprintf("%s <%s>", encoded, email)
	} else {
		return email
	}
}

func prepMailContents(toLine string, fromLine string, subject string, contents string, now time.Time) []byte {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("To: %s\r\n", toLine))
	builder.WriteString(fmt.Sprintf("From: %s\r\n", fromLine))
	builder.WriteString(fmt.Sprintf("Date: %s\r\n", now.UTC().Format(time.RFC1123Z)))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	builder.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	builder.WriteString("\r\n")
	writer := quotedprintable.NewWriter(&builder)
	writer.Write([]byte(contents))
	writer.Close()
	builder.WriteString("\r\n")

	return []byte(builder.String())
}
