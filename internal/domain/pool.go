package domain

import (
	"strings"
	"time"
)

// Pool partitions casuals, admins and shifts.
type Pool struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type PoolAdmin struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

func NewPool(id, name string, now time.Time) (Pool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Pool{}, Invalid("pool name is required")
	}
	return Pool{ID: id, Name: name, CreatedAt: now}, nil
}

func NewPoolAdmin(id, poolID, name, phone string, now time.Time) (PoolAdmin, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" {
		return PoolAdmin{}, Invalid("admin name is required")
	}
	if phone == "" {
		return PoolAdmin{}, Invalid("admin phone is required")
	}
	return PoolAdmin{ID: id, PoolID: poolID, Name: name, Phone: phone, CreatedAt: now}, nil
}
