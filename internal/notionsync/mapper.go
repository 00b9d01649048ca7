package notionsync

import (
	"time"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// Property names of the Notion postings database.
const (
	PropDescription  = "Description"
	PropPostingID    = "Posting ID"
	PropGroupID      = "Group ID"
	PropDate         = "Date"
	PropValutaDate   = "Valuta Date"
	PropAmount       = "Amount"
	PropKind         = "Kind"
	PropEntity       = "Entity"
	PropRecipient    = "Recipient"
	PropSecurityType = "Security Type"
	PropQuantity     = "Quantity"
	PropBookedAt     = "Booked At"
)

// EntityNames resolves ledger entity ids to display names.
type EntityNames struct {
	Accounts     map[string]string
	Contacts     map[string]string
	SavingsPlans map[string]string
	Securities   map[string]string
}

// Name returns the display name of the entity a posting belongs to, falling back to its id.
func (n EntityNames) Name(p domain.Posting) string {
	var names map[string]string
	id := ""
	switch p.Kind {
	case domain.PostingKindBank:
		names, id = n.Accounts, p.AccountID
	case domain.PostingKindContact:
		names, id = n.Contacts, p.ContactID
	case domain.PostingKindSavingsPlan:
		names, id = n.SavingsPlans, p.SavingsPlanID
	case domain.PostingKindSecurity:
		names, id = n.Securities, p.SecurityID
	}
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id
}

func richText(content string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{
					Content: content,
				},
			},
		},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: &d,
		},
	}
}

func numberProperty(d decimal.Decimal) notionapi.NumberProperty {
	return notionapi.NumberProperty{Number: d.InexactFloat64()}
}

// PostingToNotionProperties converts a posting to the properties of one Notion page.
// The database schema is: Description (title), Posting ID, Group ID, Date, Valuta Date, Amount,
// Kind, Entity, Recipient, Security Type, Quantity, Booked At.
func PostingToNotionProperties(p domain.Posting, names EntityNames) notionapi.Properties {
	description := p.Subject
	if description == "" {
		description = p.Description
	}

	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: description,
					},
				},
			},
		},
		PropPostingID: richText(p.ID),
		PropGroupID:   richText(p.GroupID),
		PropDate:      dateProperty(p.BookingDate),
		PropAmount:    numberProperty(p.Amount),
		PropKind: notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(p.Kind),
			},
		},
		PropEntity:   richText(names.Name(p)),
		PropBookedAt: dateProperty(p.CreatedAt),
	}

	if p.ValutaDate != nil {
		props[PropValutaDate] = dateProperty(*p.ValutaDate)
	}
	if p.RecipientName != "" {
		props[PropRecipient] = richText(p.RecipientName)
	}
	if p.SecuritySubType != "" {
		props[PropSecurityType] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(p.SecuritySubType),
			},
		}
	}
	if p.Quantity.Valid {
		props[PropQuantity] = numberProperty(p.Quantity.Decimal)
	}

	return props
}

// extractPostingID extracts the posting ID from a Notion page's properties.
// Returns empty string if not found.
func extractPostingID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropPostingID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}
