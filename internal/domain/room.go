package domain

// RoomID identifies one collaboration room. A room's id equals the id of
// the dashboard being edited in it.
type RoomID string
