package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spec-kit/verification-desk/internal/domain"
	"github.com/spec-kit/verification-desk/internal/platform"
)

// Custom ids carried by the welcome message controls.
const (
	ComponentPhotoSubmitted = "ticket:photo"
	ComponentCloseTicket    = "ticket:close"
	ComponentHelp           = "ticket:help"
)

const (
	colorInfo    = 0x3498DB
	colorSuccess = 0x00FF00
	colorWarning = 0xFFA500
	colorDanger  = 0xFF0000
	colorClosed  = 0xFF9900
)

func welcomeMessage(record domain.TicketRecord, now time.Time) platform.OutgoingMessage {
	age := "not provided"
	if record.DeclaredAge != nil {
		age = strconv.Itoa(*record.DeclaredAge)
	}
	return platform.OutgoingMessage{
		Embeds: []platform.Embed{{
			Title:       "🎫 New Verification Ticket",
			Description: fmt.Sprintf("**Welcome <@%s>!**\n\nYour ticket has been created.", record.UserID),
			Color:       colorInfo,
			Timestamp:   now,
			Fields: []platform.EmbedField{
				{
					Name:  "📋 Ticket",
					Value: fmt.Sprintf("**ID:** `%s`\n**Reason:** %s\n**Declared age:** %s", record.TicketID, record.Reason, age),
				},
				{
					Name: "📸 Verification steps",
					Value: "1️⃣ Post a photo of an identity document\n" +
						"2️⃣ **Hide everything except your age or date of birth**\n" +
						"3️⃣ Press the photo button and wait for a moderator\n" +
						"4️⃣ Receive the verified role once approved",
				},
				{
					Name: "⚠️ Rules",
					Value: "• Show ONLY your age on the document\n" +
						"• Hide name, address, document number and portrait\n" +
						"• The photo must be sharp and readable\n" +
						"• One ticket per person",
				},
			},
			Footer: "Use the buttons below to interact with your ticket",
		}},
		Buttons: []platform.Button{
			{CustomID: ComponentPhotoSubmitted, Label: "I sent my photo", Emoji: "📸", Style: platform.ButtonSuccess},
			{CustomID: ComponentCloseTicket, Label: "Close ticket", Emoji: "🔒", Style: platform.ButtonDanger},
			{CustomID: ComponentHelp, Label: "Help", Emoji: "❓", Style: platform.ButtonSecondary},
		},
	}
}

func photoReceivedMessage() platform.OutgoingMessage {
	return platform.OutgoingMessage{Embeds: []platform.Embed{{
		Title:       "📸 Photo received!",
		Description: "Thanks! A moderator will review your photo shortly.",
		Color:       colorWarning,
		Fields: []platform.EmbedField{{
			Name:  "⏳ Waiting",
			Value: "A staff member will check your document. Please be patient.",
		}},
	}}}
}

func moderatorPingMessage(roleID string) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Content: fmt.Sprintf("🔔 <@&%s> - new identity photo to review in this ticket!", roleID),
	}
}

func approvedMessage(userID string, reviewer domain.Actor, grace time.Duration, now time.Time) platform.OutgoingMessage {
	return platform.OutgoingMessage{Embeds: []platform.Embed{{
		Title:       "✅ Verification approved!",
		Description: fmt.Sprintf("Congratulations <@%s>! Your identity has been verified.", userID),
		Color:       colorSuccess,
		Timestamp:   now,
		Fields: []platform.EmbedField{
			{Name: "🎭 New status", Value: "You are now a verified member with access to every channel."},
			{Name: "🔒 Ticket", Value: fmt.Sprintf("This ticket closes automatically in %s.", grace)},
		},
		Footer: "Verified by " + reviewer.DisplayName,
	}}}
}

func rejectedMessage(userID string, reviewer domain.Actor, now time.Time) platform.OutgoingMessage {
	return platform.OutgoingMessage{Embeds: []platform.Embed{{
		Title:       "❌ Verification rejected",
		Description: fmt.Sprintf("Sorry <@%s>, your verification was rejected.", userID),
		Color:       colorDanger,
		Timestamp:   now,
		Fields: []platform.EmbedField{{
			Name: "🔄 What now?",
			Value: "• Check that the photo is sharp\n" +
				"• Make sure only your age is visible\n" +
				"• Ask a moderator for details\n" +
				"• Post a new photo and press the photo button again",
		}},
		Footer: "Rejected by " + reviewer.DisplayName,
	}}}
}

// HelpEmbed is the canned guidance returned by the help control.
func HelpEmbed() platform.Embed {
	return platform.Embed{
		Title:       "❓ Help - Identity verification",
		Description: "How to get verified",
		Color:       colorInfo,
		Fields: []platform.EmbedField{
			{Name: "📋 Accepted documents", Value: "• ID card\n• Passport\n• Driving licence\n• Student card showing your age", Inline: true},
			{Name: "✅ Hiding information", Value: "• Paper or sticky notes\n• Edit the picture\n• Black marker\n• Leave ONLY the age visible", Inline: true},
			{Name: "❌ Common mistakes", Value: "• Blurry photo\n• Personal data visible\n• Unofficial document\n• Age not visible"},
		},
	}
}
