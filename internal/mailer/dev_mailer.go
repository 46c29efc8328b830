package mailer

import (
	"fmt"

	"github.com/shoplane/accounts/pkg/logger"
)

type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendVerificationCode(toEmail, toName, code string) error {
	logger.Info("[DEV MAIL] Verification code",
		"to", toEmail,
		"name", toName,
		"code", code,
	)

	fmt.Printf("\n"+
		"=================================================================\n"+
		"VERIFICATION EMAIL (DEV MODE)\n"+
		"=================================================================\n"+
		"To: %s (%s)\n"+
		"Subject: Verify your Shoplane account\n"+
		"\n"+
		"Verification code: %s\n"+
		"=================================================================\n\n",
		toEmail, toName, code)

	return nil
}

func (d *DevMailer) SendPasswordResetCode(toEmail, toName, code string) error {
	logger.Info("[DEV MAIL] Password reset code",
		"to", toEmail,
		"name", toName,
		"code", code,
	)

	fmt.Printf("\n"+
		"=================================================================\n"+
		"PASSWORD RESET EMAIL (DEV MODE)\n"+
		"=================================================================\n"+
		"To: %s (%s)\n"+
		"Subject: Reset your Shoplane password\n"+
		"\n"+
		"Reset code: %s\n"+
		"=================================================================\n\n",
		toEmail, toName, code)

	return nil
}
