package workflow

import (
	"errors"
	"fmt"

	"songrelay/backend/internal/domain"
)

// errorText 把业务错误翻译成发给用户的文案。
// 未识别的错误统一回一句通用提示，细节只进日志。
func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotRegistered):
		return "You are not registered yet. Send \"register\" first."
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return "You are already registered."
	case errors.Is(err, domain.ErrCodeInUse):
		return "That code is already taken. Please pick another one."
	case errors.Is(err, domain.ErrOwnerLimitExceeded):
		return fmt.Sprintf("You already have %d live addresses. Remove one before creating another.", domain.MaxAddressesPerOwner)
	case errors.Is(err, domain.ErrAddressNotFound):
		return "That code doesn't exist."
	case errors.Is(err, domain.ErrAddressNotActive):
		return "That code is currently disabled."
	case errors.Is(err, domain.ErrAddressExpired):
		return "That code has expired."
	case errors.Is(err, domain.ErrPasswordMismatch):
		return "Wrong password."
	case errors.Is(err, domain.ErrTooManyAttempts):
		return "Too many wrong attempts. Start over when you're ready."
	case errors.Is(err, domain.ErrNotesTooLong):
		return fmt.Sprintf("Notes are too long (%d characters max).", domain.MaxNotesLength)
	case errors.Is(err, domain.ErrRateLimited):
		return "You can only send one song request every 10 minutes. Please wait a bit."
	case errors.Is(err, domain.ErrRecipientUnreachable):
		return "The recipient can't be reached right now. Your request was not delivered."
	case errors.Is(err, domain.ErrTransientDelivery):
		return "Delivery failed. Please try again in a moment."
	default:
		return "Something went wrong. Please try again."
	}
}

// helpText 命令总览，help 命令和无法识别的输入都会用到。
const helpText = `Available commands:
  register - register as a sender
  change-nickname - change your nickname
  set-recipient-code - bind to a recipient's address code
  submit-song-request - send a song request
  register-as-recipient - register this chat to receive requests
  create-address - create a new address code
  list-addresses - list this chat's address codes
  toggle-address - enable or disable an address code
  remove-address - remove an address code
  release-address - permanently release an address code
  cancel - abort the current operation
  help - show this message`
