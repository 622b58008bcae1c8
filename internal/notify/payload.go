package notify

import "fmt"

// Message type tags stored with each outbox row.
const (
	TypeShiftBroadcast    = "ShiftBroadcast"
	TypeInviteNotice      = "InviteNotice"
	TypeAdminInviteNotice = "AdminInviteNotice"
	TypeClaimConfirmation = "ClaimConfirmation"
	TypeShiftReopened     = "ShiftReopened"
	TypeShiftCancelled    = "ShiftCancelled"
)

// Payload is a typed notification body.
type Payload interface {
	MessageType() string
	// Address is the opaque recipient identifier (a phone number today).
	Address() string
	// Text renders the human-readable message.
	Text() string
}

type ShiftBroadcast struct {
	NotificationID string `json:"notification_id"`
	Recipient      string `json:"recipient"`
	Description    string `json:"description"`
	ActionURL      string `json:"action_url"`
}

func (ShiftBroadcast) MessageType() string { return TypeShiftBroadcast }
func (p ShiftBroadcast) Address() string   { return p.Recipient }
func (p ShiftBroadcast) Text() string {
	return fmt.Sprintf("New shift available: %s. Claim it: %s", p.Description, p.ActionURL)
}

type InviteNotice struct {
	ParticipantID   string `json:"participant_id"`
	Recipient       string `json:"recipient"`
	ParticipantName string `json:"participant_name"`
	PoolName        string `json:"pool_name"`
	VerifyURL       string `json:"verify_url"`
}

func (InviteNotice) MessageType() string { return TypeInviteNotice }
func (p InviteNotice) Address() string   { return p.Recipient }
func (p InviteNotice) Text() string {
	return fmt.Sprintf("Hi %s, you have been invited to pick up shifts with %s. Verify your number: %s", p.ParticipantName, p.PoolName, p.VerifyURL)
}

type AdminInviteNotice struct {
	AdminID   string `json:"admin_id"`
	Recipient string `json:"recipient"`
	AdminName string `json:"admin_name"`
	PoolName  string `json:"pool_name"`
	AcceptURL string `json:"accept_url"`
}

func (AdminInviteNotice) MessageType() string { return TypeAdminInviteNotice }
func (p AdminInviteNotice) Address() string   { return p.Recipient }
func (p AdminInviteNotice) Text() string {
	return fmt.Sprintf("Hi %s, you have been added as an admin of %s. Accept: %s", p.AdminName, p.PoolName, p.AcceptURL)
}

type ClaimConfirmation struct {
	ClaimID     string `json:"claim_id"`
	Recipient   string `json:"recipient"`
	Description string `json:"description"`
}

func (ClaimConfirmation) MessageType() string { return TypeClaimConfirmation }
func (p ClaimConfirmation) Address() string   { return p.Recipient }
func (p ClaimConfirmation) Text() string {
	return fmt.Sprintf("You're booked: %s", p.Description)
}

type ShiftReopened struct {
	NotificationID string `json:"notification_id"`
	Recipient      string `json:"recipient"`
	Description    string `json:"description"`
	ActionURL      string `json:"action_url"`
}

func (ShiftReopened) MessageType() string { return TypeShiftReopened }
func (p ShiftReopened) Address() string   { return p.Recipient }
func (p ShiftReopened) Text() string {
	return fmt.Sprintf("A spot opened up: %s. Claim it: %s", p.Description, p.ActionURL)
}

type ShiftCancelled struct {
	NotificationID string `json:"notification_id"`
	Recipient      string `json:"recipient"`
	Description    string `json:"description"`
}

func (ShiftCancelled) MessageType() string { return TypeShiftCancelled }
func (p ShiftCancelled) Address() string   { return p.Recipient }
func (p ShiftCancelled) Text() string {
	return fmt.Sprintf("Cancelled: %s. You no longer need to attend.", p.Description)
}
