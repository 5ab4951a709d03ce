// Package auth issues and verifies the station login tokens.
package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const TokenTTL = 8 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrForbidden          = errors.New("role not allowed")
)

type Role string

const (
	RoleKitchenWaiter Role = "mesero-cocina"
	RoleBarWaiter     Role = "mesero-bar"
	RoleCook          Role = "cocinero"
	RoleBartender     Role = "bartender"
	RoleFoodAdmin     Role = "admin-comida"
	RoleDrinksAdmin   Role = "admin-bebidas"
)

// Routes maps each role to the station it is allowed to open.
var Routes = map[Role]string{
	RoleKitchenWaiter: "/client",
	RoleBarWaiter:     "/bar",
	RoleCook:          "/kitchen",
	RoleBartender:     "/bartender",
	RoleFoodAdmin:     "/menu-admin",
	RoleDrinksAdmin:   "/alcohol-admin",
}

func (r Role) IsAdmin() bool {
	return r == RoleFoodAdmin || r == RoleDrinksAdmin
}

type User struct {
	Username string
	Password string
	Role     Role
}

// ParseUsers reads "name:password:role" entries separated by commas.
func ParseUsers(list string) ([]User, error) {
	var out []User
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("malformed user entry %q", entry)
		}
		role := Role(parts[2])
		if _, ok := Routes[role]; !ok {
			return nil, errors.Errorf("unknown role %q for user %s", parts[2], parts[0])
		}
		out = append(out, User{Username: parts[0], Password: parts[1], Role: role})
	}
	return out, nil
}

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type account struct {
	hash []byte
	role Role
}

// Service holds the in-memory user list and the signing secret.
type Service struct {
	secret []byte
	now    func() time.Time

	mu    sync.RWMutex
	users map[string]account
}

func NewService(secret string, users []User) (*Service, error) {
	if secret == "" {
		return nil, errors.New("empty signing secret")
	}
	s := &Service{secret: []byte(secret), now: time.Now, users: make(map[string]account, len(users))}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
		if err != nil {
			return nil, errors.Wrapf(err, "hash password for %s", u.Username)
		}
		s.users[u.Username] = account{hash: hash, role: u.Role}
	}
	return s, nil
}

// Login checks the credentials and returns a signed token valid for TokenTTL.
func (s *Service) Login(username, password string) (string, Role, error) {
	s.mu.RLock()
	acc, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return "", "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: acc.role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", "", errors.Wrap(err, "sign token")
	}
	return signed, acc.role, nil
}

func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AuthorizeAdmin accepts tokens carrying one of the admin roles and returns the subject.
func (s *Service) AuthorizeAdmin(token string) (string, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return "", err
	}
	if !claims.Role.IsAdmin() {
		return claims.Subject, ErrForbidden
	}
	return claims.Subject, nil
}
