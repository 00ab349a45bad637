package notification

import (
	"fmt"
	"time"
)

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func slackPayload(e Event) interface{} {
	title := fmt.Sprintf("%s %s", e.emoji(), e.Title())

	fields := []slackText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*App:*\n%s", e.App)},
		{Type: "mrkdwn", Text: fmt.Sprintf("*Environment:*\n%s", e.Environment)},
	}
	if e.Strategy != "" {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Strategy:*\n%s", e.Strategy)})
	}
	if e.Release != "" {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Release:*\n%s", e.Release)})
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
		{Type: "section", Fields: fields},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: e.Message}},
	}
	if e.Error != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n```%s```", e.Error)},
		})
	}
	blocks = append(blocks, slackBlock{
		Type: "context",
		Elements: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>",
			e.Timestamp.Unix(), e.Timestamp.Format(time.RFC3339))}},
	})

	return slackMessage{
		Text:        title,
		Attachments: []slackAttachment{{Color: fmt.Sprintf("#%06x", e.color()), Blocks: blocks}},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func discordPayload(e Event) interface{} {
	embed := discordEmbed{
		Title:       fmt.Sprintf("%s %s", e.emoji(), e.Title()),
		Description: e.Message,
		Color:       e.color(),
		Fields: []discordField{
			{Name: "App", Value: e.App, Inline: true},
			{Name: "Environment", Value: e.Environment, Inline: true},
		},
		Timestamp: e.Timestamp.Format(time.RFC3339),
	}
	if e.Release != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Release", Value: e.Release, Inline: true})
	}
	if e.Error != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Error", Value: fmt.Sprintf("```%s```", e.Error)})
	}
	if e.Duration > 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Duration", Value: e.Duration.Round(time.Second).String(), Inline: true})
	}
	return discordMessage{Embeds: []discordEmbed{embed}}
}
