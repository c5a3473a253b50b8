// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// CursorPosition is a collaborator's pointer location on the canvas.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Collaborator is the live presence record for one websocket connection:
// who they are, their assigned cursor color, where their cursor is, and
// which element they have selected (if any).
type Collaborator struct {
	UserID            string         `json:"userId"`
	UserName          string         `json:"userName"`
	Color             string         `json:"color"`
	Position          CursorPosition `json:"position"`
	SelectedElementID string         `json:"selectedElementId,omitempty"`
}
