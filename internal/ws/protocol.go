package ws

import "github.com/sketchwall/backend/internal/canvas"

// Frame types sent by clients.
const (
	MsgRegister = "register"
	MsgJoin     = "join"
	MsgApprove  = "approve"
	MsgReject   = "reject"
	MsgAction   = "action"
	MsgChat     = "chat"
	MsgUndo     = "undo"
	MsgRedo     = "redo"
	MsgLoad     = "load"
	MsgClear    = "clear"
	MsgKick     = "kick"
	MsgClose    = "close"
	MsgUsers    = "users"
)

// Frame types sent by the server.
const (
	MsgRegistered   = "registered"
	MsgHistory      = "history"
	MsgUserList     = "user_list"
	MsgJoinRequest  = "join_request"
	MsgJoinDecision = "join_decision"
	MsgBoardClosed  = "board_closed"
	MsgKicked       = "kicked"
	MsgError        = "error"
)

// Envelope is the single wire frame for both directions. Type selects
// which of the optional fields are meaningful. History and Approved stay
// present even at their zero values: an empty board and a rejection must
// be readable from the frame itself.
type Envelope struct {
	Type     string          `json:"type"`
	Name     string          `json:"name,omitempty"`
	Sender   string          `json:"sender,omitempty"`
	Text     string          `json:"text,omitempty"`
	Action   *canvas.Action  `json:"action,omitempty"`
	History  []canvas.Action `json:"history"`
	Users    []string        `json:"users,omitempty"`
	Approved bool            `json:"approved"`
	Error    string          `json:"error,omitempty"`
}
