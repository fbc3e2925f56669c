package model

import "padsync/store"

type OpenDocRequest struct {
	Pad    string `json:"pad"`
	Subpad string `json:"subpad,omitempty"`
}

type SaveDocRequest struct {
	Pad     string `json:"pad"`
	Subpad  string `json:"subpad,omitempty"`
	Content string `json:"content"`
}

type SetPasswordRequest struct {
	Pad      string `json:"pad"`
	Password string `json:"password"`
}

type UnlockRequest struct {
	Pad      string `json:"pad"`
	Password string `json:"password"`
}

type UnlockResponse struct {
	Grant string `json:"grant"`
}

type PublishCursorRequest struct {
	Pad      string `json:"pad"`
	Position int    `json:"position"`
	UserName string `json:"user_name,omitempty"`
	Color    string `json:"color,omitempty"`
}

type RetractCursorRequest struct {
	Pad string `json:"pad"`
}

type CursorsResponse struct {
	Cursors []store.Cursor `json:"cursors"`
}

type SubpadsResponse struct {
	Subpads []store.Subpad `json:"subpads"`
}
