package dispatch

import "github.com/kramQAQ/inksprint/internal/protocol"

func (d *Dispatcher) handleRegister(req protocol.Request) (protocol.Message, error) {
	var emailAddr string
	if req.Email != nil {
		emailAddr = *req.Email
	}
	res, err := d.auth.Register(req.Username, req.PasswordHash, emailAddr)
	if err != nil {
		return nil, err
	}
	return protocol.Message{
		"type":    protocol.TypeRegisterResponse,
		"status":  protocol.StatusSuccess,
		"user_id": res.UserID,
	}, nil
}

func (d *Dispatcher) handleLogin(session *Session, req protocol.Request) (protocol.Message, error) {
	res, err := d.auth.Login(req.Username, req.PasswordHash)
	if err != nil {
		return nil, err
	}
	session.UserID = res.UserID
	msg := protocol.Message{
		"type":        protocol.TypeLoginResponse,
		"status":      protocol.StatusSuccess,
		"user_id":     res.UserID,
		"nickname":    res.Nickname,
		"email":       res.Email,
		"avatar_blob": res.AvatarBlobB64,
		"today_total": res.TodayTotal,
	}
	if res.HasGroup {
		msg["current_group"] = res.CurrentGroupID
	}
	return msg, nil
}

func (d *Dispatcher) handleSendCode(req protocol.Request) (protocol.Message, error) {
	if err := d.auth.SendCode(req.Username); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeCodeResponse, "status": protocol.StatusSuccess}, nil
}

func (d *Dispatcher) handleResetPassword(req protocol.Request) (protocol.Message, error) {
	if err := d.auth.ResetPassword(req.Username, req.Code, req.NewPasswordHash); err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeResetResponse, "status": protocol.StatusSuccess}, nil
}

func (d *Dispatcher) handleUpdateProfile(session *Session, req protocol.Request) (protocol.Message, error) {
	var emailAddr string
	if req.Email != nil {
		emailAddr = *req.Email
	}
	err := d.auth.UpdateProfile(session.UserID, req.Nickname, emailAddr, req.Email != nil, req.Signature, req.AvatarData)
	if err != nil {
		return nil, err
	}
	return protocol.Message{"type": protocol.TypeProfileUpdated, "status": protocol.StatusSuccess}, nil
}
