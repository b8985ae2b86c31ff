package wire

import (
	"collab-lab/domain"
)

// PresencePayload is the outbound presence record, every field paired.
type PresencePayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	OnlineAt int64  `json:"onlineAt"`
}

func BuildOutboundPresence(user domain.PresenceUser) PresencePayload {
	ts := user.JoinedAt.UnixMilli()
	return PresencePayload{
		ID:       user.ID,
		Name:     user.Name,
		JoinedAt: ts,
		UserID:   user.ID,
		UserName: user.Name,
		OnlineAt: ts,
	}
}

// NormalizeInboundPresence accepts a presence record in either naming.
// A record without any join time keeps a zero JoinedAt.
func NormalizeInboundPresence(raw []byte) (domain.PresenceUser, error) {
	f, err := decode(raw)
	if err != nil {
		return domain.PresenceUser{}, err
	}
	joinedAt, _, err := f.time("onlineAt", "joinedAt")
	if err != nil {
		return domain.PresenceUser{}, err
	}
	user := domain.PresenceUser{
		ID:       f.first("userId", "id"),
		Name:     f.first("userName", "name"),
		JoinedAt: joinedAt,
	}
	if err := validate.Struct(user); err != nil {
		return domain.PresenceUser{}, validationError(err)
	}
	return user, nil
}

// NormalizeInboundPresences normalizes a list of presence records and skips
// the malformed ones. The second value counts the skipped records.
func NormalizeInboundPresences(raws [][]byte) ([]domain.PresenceUser, int) {
	users := make([]domain.PresenceUser, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		user, err := NormalizeInboundPresence(raw)
		if err != nil {
			skipped++
			continue
		}
		users = append(users, user)
	}
	return users, skipped
}
