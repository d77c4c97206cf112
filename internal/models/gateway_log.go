package models

import (
	"time"
)

// GatewayLog keeps the raw exchange with a payment provider for support and reconciliation.
type GatewayLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider   string    `gorm:"column:provider;size:64;not null" json:"provider"`
	Operation  string    `gorm:"column:operation;size:64;not null" json:"operation"`
	Reference  string    `gorm:"column:reference;size:128;index" json:"reference"`
	Request    string    `gorm:"column:request;type:text" json:"request"`
	Response   string    `gorm:"column:response;type:text" json:"response"`
	HTTPStatus int       `gorm:"column:http_status;default:0" json:"http_status"`
	Success    bool      `gorm:"column:success;default:false" json:"success"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (GatewayLog) TableName() string {
	return "gateway_logs"
}
