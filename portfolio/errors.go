package portfolio

import "errors"

var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrConnectivity 是实盘适配层在抽象接口边界统一上抛的错误：
	// 策略层不感知具体的传输失败类型。
	ErrConnectivity = errors.New("connectivity error")
)
