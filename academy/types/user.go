// academy/types/user.go
package types

type TokenRequest struct {
	Email          string  `json:"email" validate:"required,email"`
	FullName       *string `json:"full_name,omitempty"`
	OrganizationID *string `json:"organization_id,omitempty" validate:"omitempty,uuid"`
}

type UpdateProfileRequest struct {
	FullName *string `json:"full_name,omitempty" validate:"omitempty,max=255"`
}
