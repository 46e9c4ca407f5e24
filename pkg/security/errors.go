package security

import "errors"

// 配置与密钥错误，出现在 NewJWTManager
var (
	ErrSecretKeyEmpty   = errors.New("security: secret key is empty")
	ErrKeyLoad          = errors.New("security: failed to load key")
	ErrAlgorithmInvalid = errors.New("security: invalid algorithm")
)

// 令牌校验错误，凭证校验据此区分过期与其他无效原因
var (
	ErrTokenMissing      = errors.New("security: token is missing")
	ErrTokenInvalid      = errors.New("security: token is invalid")
	ErrTokenExpired      = errors.New("security: token has expired")
	ErrTokenNotValidYet  = errors.New("security: token is not valid yet")
	ErrTokenMalformed    = errors.New("security: token is malformed")
	ErrSignatureInvalid  = errors.New("security: signature is invalid")
	ErrAlgorithmMismatch = errors.New("security: algorithm mismatch")
)
