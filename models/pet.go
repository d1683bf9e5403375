package models

import "time"

// Pet is the snapshot of a listed animal. Favorites keep it by value.
type Pet struct {
	ID          ID     `json:"id" bson:"id"`
	Name        string `json:"name" bson:"name"`
	Species     string `json:"species,omitempty" bson:"species,omitempty"` // "dog", "cat", ...
	Breed       string `json:"breed,omitempty" bson:"breed,omitempty"`
	Age         string `json:"age,omitempty" bson:"age,omitempty"`
	Gender      string `json:"gender,omitempty" bson:"gender,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	Location    string `json:"location,omitempty" bson:"location,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	Status      string `json:"status,omitempty" bson:"status,omitempty"` // "available", "adopted"
	OwnerID     string `json:"ownerId,omitempty" bson:"ownerId,omitempty"`
}

// Report flags a listing or user for moderation.
type Report struct {
	ReportedBy string    `json:"reportedBy,omitempty"`
	TargetID   string    `json:"targetId"`   // petId, userId etc.
	TargetType string    `json:"targetType"` // "pet", "user", "message"
	Reason     string    `json:"reason"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}
