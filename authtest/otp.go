package authtest

import (
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"
)

// OTPExpiry is how long a signup code stays valid
const OTPExpiry = 10 * time.Minute

// pendingSignup is a signup waiting for its code
type pendingSignup struct {
	Email        string
	PasswordHash string
	BusinessName string
	OTP          string
	ExpiresAt    time.Time
}

func (p *pendingSignup) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// GenerateOTP returns a random numeric code of the given length
func GenerateOTP(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate otp: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// OTPSender delivers signup codes. Applications plug in a mailer.
type OTPSender interface {
	SendSignupOTP(to string, businessName string, otp string) error
}

// ConsoleOTPSender is a development implementation that logs codes to console
type ConsoleOTPSender struct{}

func (c *ConsoleOTPSender) SendSignupOTP(to string, businessName string, otp string) error {
	log.Printf("\n=== EMAIL: Signup code ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Your %s verification code", businessName)
	log.Printf("Body: Your code is %s. It expires in %s.", otp, OTPExpiry)
	log.Printf("==========================\n")
	return nil
}

// OTPSenderFunc adapts a function to OTPSender
type OTPSenderFunc func(to, businessName, otp string) error

func (f OTPSenderFunc) SendSignupOTP(to, businessName, otp string) error {
	return f(to, businessName, otp)
}
