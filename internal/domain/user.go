// Package domain contains entities without logic, just meta-data.
package domain

type UserID string

type User struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
