package security

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
)

// JWTConfig JWT 配置
type JWTConfig struct {
	// 签名密钥（HS 系列算法）
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`

	// 公钥 / 私钥文件（RS 系列算法）
	PublicKeyFile  string `mapstructure:"public_key_file" json:"public_key_file"`
	PrivateKeyFile string `mapstructure:"private_key_file" json:"private_key_file"`

	// 签名算法（默认 HS256），支持 HS256/384/512、RS256/384/512
	Algorithm string `mapstructure:"algorithm" json:"algorithm"`

	// Token 过期时间（默认 24 小时）
	ExpiresIn time.Duration `mapstructure:"expires_in" json:"expires_in"`

	// 签发者，非空时校验 iss
	Issuer string `mapstructure:"issuer" json:"issuer"`

	// 时钟偏差容忍
	Leeway time.Duration `mapstructure:"leeway" json:"leeway"`
}

// DefaultJWTConfig 返回默认 JWT 配置
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		Algorithm: "HS256",
		ExpiresIn: 24 * time.Hour,
	}
}

// Claims 连接凭证载荷
//
// sub 为用户 ID，jti 为凭证 ID，sid 为会话 ID。
type Claims struct {
	jwt.RegisteredClaims

	SessionID   string   `json:"sid,omitempty"`
	Username    string   `json:"name,omitempty"`
	DisplayName string   `json:"dname,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// HasRole 是否拥有角色
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// JWTManager JWT 签发与校验
type JWTManager struct {
	config     *JWTConfig
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	parserOpts []jwt.ParserOption
}

// NewJWTManager 创建 JWT 管理器
func NewJWTManager(cfg *JWTConfig) (*JWTManager, error) {
	newCfg, err := config.MergeConfig(DefaultJWTConfig(), cfg)
	if err != nil {
		return nil, err
	}

	m := &JWTManager{config: newCfg}
	if err := m.loadKeys(); err != nil {
		return nil, err
	}

	m.parserOpts = []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithLeeway(newCfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if newCfg.Issuer != "" {
		m.parserOpts = append(m.parserOpts, jwt.WithIssuer(newCfg.Issuer))
	}

	return m, nil
}

// loadKeys 根据算法加载签名密钥
func (m *JWTManager) loadKeys() error {
	alg := strings.ToUpper(m.config.Algorithm)

	switch alg {
	case "HS256", "HS384", "HS512":
		if m.config.SecretKey == "" {
			return ErrSecretKeyEmpty
		}
		m.method = jwt.GetSigningMethod(alg)
		m.signKey = []byte(m.config.SecretKey)
		m.verifyKey = m.signKey

	case "RS256", "RS384", "RS512":
		m.method = jwt.GetSigningMethod(alg)
		if m.config.PublicKeyFile != "" {
			data, err := os.ReadFile(m.config.PublicKeyFile)
			if err != nil {
				return fmt.Errorf("%w: public key: %v", ErrKeyLoad, err)
			}
			if m.verifyKey, err = jwt.ParseRSAPublicKeyFromPEM(data); err != nil {
				return fmt.Errorf("%w: public key: %v", ErrKeyLoad, err)
			}
		}
		if m.config.PrivateKeyFile != "" {
			data, err := os.ReadFile(m.config.PrivateKeyFile)
			if err != nil {
				return fmt.Errorf("%w: private key: %v", ErrKeyLoad, err)
			}
			if m.signKey, err = jwt.ParseRSAPrivateKeyFromPEM(data); err != nil {
				return fmt.Errorf("%w: private key: %v", ErrKeyLoad, err)
			}
		}

	default:
		return ErrAlgorithmInvalid
	}

	return nil
}

// GenerateToken 签发 Token，未设置的 jti / iat / exp 自动补齐
func (m *JWTManager) GenerateToken(claims *Claims) (string, error) {
	now := time.Now()

	if claims.ID == "" {
		claims.ID = uuid.New().String()
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.config.ExpiresIn))
	}
	if m.config.Issuer != "" && claims.Issuer == "" {
		claims.Issuer = m.config.Issuer
	}

	return jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
}

// ValidateToken 校验签名与时间字段并返回 Claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != m.method.Alg() {
			return nil, ErrAlgorithmMismatch
		}
		return m.verifyKey, nil
	}, m.parserOpts...)
	if err != nil {
		return nil, wrapError(err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// GetConfig 获取配置
func (m *JWTManager) GetConfig() *JWTConfig {
	return m.config
}

// wrapError 将 jwt 库错误映射为包内错误
func wrapError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotValidYet
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrAlgorithmMismatch):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
