/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/store/sqlite"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type TokenResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	User         *UserDTO `json:"user,omitempty"`
}

// =============================================================================
// SERVICES
// =============================================================================

type ServiceDTO struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username,omitempty"`
	ServiceName string          `json:"service_name"`
	Client      string          `json:"client,omitempty"`
	Time        string          `json:"time,omitempty"`
	Earnings    decimal.Decimal `json:"earnings"`
	Date        string          `json:"date"`
	Comment     string          `json:"comment,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func toServiceDTO(row sqlite.ServiceRow) ServiceDTO {
	return ServiceDTO{
		ID:          row.ID.String(),
		UserID:      row.UserID.String(),
		Username:    row.Username,
		ServiceName: row.ServiceName,
		Client:      row.Client,
		Time:        row.Time,
		Earnings:    row.Earnings,
		Date:        row.Date.String(),
		Comment:     row.Comment,
		CreatedAt:   row.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type CreateServiceRequest struct {
	Username    string `json:"username"`
	ServiceName string `json:"serviceName"`
	Client      string `json:"client"`
	Earnings    string `json:"earnings"`
	Date        string `json:"date"`
}

type UpdateCommentRequest struct {
	Comment string `json:"comment"`
}

// =============================================================================
// STATS
// =============================================================================

type AdminStatsResponse struct {
	Users      []earnings.EmployeeStats `json:"users"`
	AdminTotal earnings.GlobalStats     `json:"adminTotal"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// PercentageResponse carries the employee share on the 0-100 display scale.
type PercentageResponse struct {
	Percentage float64 `json:"percentage"`
}

type UpdatePercentageRequest struct {
	Percentage    *float64 `json:"percentage"`
	EffectiveDate string   `json:"effectiveDate"`
}

// =============================================================================
// COMMON
// =============================================================================

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
