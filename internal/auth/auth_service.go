package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dreamGarden/internal/config"
)

// ErrSigningDisabled 表示服务只持有公钥，不能签发令牌。
var ErrSigningDisabled = errors.New("token signing is disabled: no private key configured")

// AuthService 校验外部身份服务签发的主体令牌；配置了私钥时也可签发（开发/运维用）。
type AuthService struct {
	privateKey     *rsa.PrivateKey
	publicKey      *rsa.PublicKey
	issuer         string
	accessTokenTTL time.Duration
}

// PrincipalClaims 是令牌中的主体信息。Subject 即认证主体 ID。
type PrincipalClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthService 解析 PEM 密钥并构造服务实例。privateKeyPEM 可以为空。
func NewAuthService(privateKeyPEM, publicKeyPEM []byte, issuer string, accessTTL time.Duration) (*AuthService, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}

	var privateKey *rsa.PrivateKey
	if len(privateKeyPEM) > 0 {
		privateKey, err = jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse rsa private key: %w", err)
		}
	}

	return &AuthService{
		privateKey:     privateKey,
		publicKey:      publicKey,
		issuer:         issuer,
		accessTokenTTL: accessTTL,
	}, nil
}

// LoadAuthService 从配置的路径读取密钥文件。
func LoadAuthService(cfg config.AuthConfig) (*AuthService, error) {
	publicPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	var privatePEM []byte
	if cfg.PrivateKeyPath != "" {
		privatePEM, err = os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}
	return NewAuthService(privatePEM, publicPEM, cfg.Issuer, cfg.AccessTokenTTL)
}

// IssueAccessToken 为主体签发访问令牌。
func (s *AuthService) IssueAccessToken(principalID, email string) (string, error) {
	if s.privateKey == nil {
		return "", ErrSigningDisabled
	}
	if principalID == "" {
		return "", errors.New("principal id is required")
	}

	now := time.Now()
	claims := PrincipalClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken 解析并验证 JWT。
func (s *AuthService) ValidateToken(tokenString string) (*PrincipalClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &PrincipalClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}

// AccessTokenTTL 暴露访问令牌有效期。
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.accessTokenTTL
}
