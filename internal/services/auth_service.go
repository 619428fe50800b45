package services

import (
	"errors"
	"os"
	"time"

	"omnibox/internal/database"
	"omnibox/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type AuthService struct{}

// JWTClaims carries the tenant scope alongside the user identity. CompanyID
// is what the channel manager uses for tenant isolation, so it must never be
// accepted from the request body.
type JWTClaims struct {
	UserID    uint   `json:"user_id"`
	CompanyID uint   `json:"company_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Register creates a new agent account in a company.
func (as *AuthService) Register(req models.UserRegister) (*models.UserResponse, error) {
	db := database.GetDB()

	if req.CompanyID == 0 {
		return nil, errors.New("company is required")
	}
	var company models.Company
	if err := db.First(&company, req.CompanyID).Error; err != nil {
		return nil, errors.New("company not found")
	}

	var existingUser models.User
	if err := db.Where("email = ?", req.Email).First(&existingUser).Error; err == nil {
		return nil, errors.New("email already registered")
	}
	if err := db.Where("username = ?", req.Username).First(&existingUser).Error; err == nil {
		return nil, errors.New("username already taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := models.User{
		CompanyID:    req.CompanyID,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		FullName:     req.FullName,
		Role:         "agent",
		IsActive:     true,
	}

	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}

	return &models.UserResponse{
		ID:        user.ID,
		CompanyID: user.CompanyID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}, nil
}

// Login authenticates an agent and returns a JWT token.
func (as *AuthService) Login(req models.UserLogin) (string, *models.UserResponse, error) {
	db := database.GetDB()

	var user models.User
	if err := db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		return "", nil, errors.New("invalid email or password")
	}

	if !user.IsActive {
		return "", nil, errors.New("account is deactivated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return "", nil, errors.New("invalid email or password")
	}

	token, err := as.generateJWT(user)
	if err != nil {
		return "", nil, err
	}

	userResponse := &models.UserResponse{
		ID:        user.ID,
		CompanyID: user.CompanyID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}

	return token, userResponse, nil
}

// UpdatePassword updates a user's password hash
func (as *AuthService) UpdatePassword(user *models.User, newPassword string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	db := database.GetDB()
	user.PasswordHash = string(hashedPassword)
	return db.Save(user).Error
}

// generateJWT creates a JWT token for the user
func (as *AuthService) generateJWT(user models.User) (string, error) {
	secretKey := os.Getenv("JWT_SECRET")
	if secretKey == "" {
		secretKey = "omnibox-super-secret-jwt-key-change-in-production" // fallback
	}

	claims := JWTClaims{
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

// ValidateToken validates JWT token and returns user claims
func (as *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	secretKey := os.Getenv("JWT_SECRET")
	if secretKey == "" {
		secretKey = "omnibox-super-secret-jwt-key-change-in-production" // fallback
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GetUserByID retrieves user by ID
func (as *AuthService) GetUserByID(userID uint) (*models.UserResponse, error) {
	db := database.GetDB()

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		return nil, err
	}

	return &models.UserResponse{
		ID:        user.ID,
		CompanyID: user.CompanyID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}, nil
}
