package models

import (
	"time"
)

type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PhoneNumber string    `gorm:"uniqueIndex;size:20;not null" json:"phone_number"`
	Password    string    `gorm:"not null" json:"-"` // Hash
	NationalID  string    `gorm:"size:64;not null" json:"-"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
