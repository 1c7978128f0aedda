package users

import (
	"time"

	"github.com/google/uuid"
)

// Role — роль сотрудника магазина в боте.
type Role string

const (
	RoleOwner   Role = "owner"   // загрузка прайса, настройки
	RoleManager Role = "manager" // получает уведомления о заявках
)

type User struct {
	ID         int64
	ShopID     uuid.UUID
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Role       Role
	Notify     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u *User) CanManagePrices() bool { return u != nil && u.Role == RoleOwner }

type Telegram struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}
