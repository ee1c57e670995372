package store

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

// GetOrCreateUserByPhone returns the user bound to phone, creating a customer
// on first login.
func (s *Store) GetOrCreateUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (phone, role, created_at) VALUES (?, ?, ?)
		ON CONFLICT (phone) DO NOTHING`),
		phone, models.RoleCustomer, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	err = s.db.GetContext(ctx, &user,
		s.db.Rebind("SELECT id, phone, name, role, created_at FROM users WHERE phone = ?"), phone)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		s.db.Rebind("SELECT id, phone, name, role, created_at FROM users WHERE id = ?"), id)
	if isNoRows(err) {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUserRole changes a user's role
func (s *Store) SetUserRole(ctx context.Context, id int64, role string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE users SET role = ? WHERE id = ?"), role, id)
	if err != nil {
		return err
	}
	return expectOne(res, "user", id)
}

const addressColumns = "id, user_id, full_name, phone, line1, line2, city, state, postal_code, country, created_at"

// CreateAddress saves an address for a user
func (s *Store) CreateAddress(ctx context.Context, a *models.Address) error {
	a.CreatedAt = s.now()
	if a.Country == "" {
		a.Country = "IN"
	}
	query := s.db.Rebind(`
		INSERT INTO addresses (user_id, full_name, phone, line1, line2, city, state, postal_code, country, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	return s.db.GetContext(ctx, &a.ID, query,
		a.UserID, a.FullName, a.Phone, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.CreatedAt)
}

// GetAddress returns an address owned by userID
func (s *Store) GetAddress(ctx context.Context, userID, id int64) (*models.Address, error) {
	var a models.Address
	err := s.db.GetContext(ctx, &a,
		s.db.Rebind("SELECT "+addressColumns+" FROM addresses WHERE id = ? AND user_id = ?"), id, userID)
	if isNoRows(err) {
		return nil, apperr.NotFound("address", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAddresses lists a user's saved addresses
func (s *Store) GetAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	addrs := []models.Address{}
	err := s.db.SelectContext(ctx, &addrs,
		s.db.Rebind("SELECT "+addressColumns+" FROM addresses WHERE user_id = ? ORDER BY id"), userID)
	return addrs, err
}
