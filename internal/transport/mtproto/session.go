package mtproto

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"castbot/internal/broadcast"
	"castbot/pkg/logx"
)

type mtSession struct {
	api    *tg.Client
	cancel context.CancelFunc
	done   chan struct{}
	log    logx.Logger
}

func (s *mtSession) FetchLatestSelfNote(ctx context.Context) (broadcast.Message, bool, error) {
	res, err := s.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerSelf{},
		Limit: 1,
	})
	if err != nil {
		return broadcast.Message{}, false, err
	}
	msg, ok := latestMessage(res)
	return msg, ok, nil
}

func (s *mtSession) ListDialogs(ctx context.Context, limit int) ([]broadcast.Dialog, error) {
	res, err := s.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	m, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	return mapDialogs(m), nil
}

func (s *mtSession) SendMessage(ctx context.Context, to broadcast.Dialog, text string) error {
	peer, ok := to.Handle.(tg.InputPeerClass)
	if !ok || peer == nil {
		return fmt.Errorf("dialog %d has no input peer", to.ID)
	}
	_, err := s.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	})
	if d, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("flood wait %s: %w", d, err)
	}
	return err
}

func (s *mtSession) Disconnect(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		s.log.Debug("session disconnected")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("disconnect: %w", ctx.Err())
	}
}

// latestMessage extracts the newest history entry. Media-only messages carry
// no text and count as "no template".
func latestMessage(res tg.MessagesMessagesClass) (broadcast.Message, bool) {
	m, ok := res.AsModified()
	if !ok {
		return broadcast.Message{}, false
	}
	for _, mc := range m.GetMessages() {
		msg, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		if msg.Message == "" {
			return broadcast.Message{}, false
		}
		return broadcast.Message{ID: msg.ID, Text: msg.Message, Date: time.Unix(int64(msg.Date), 0)}, true
	}
	return broadcast.Message{}, false
}

// mapDialogs resolves each dialog's peer against the returned entities,
// keeping provider order.
func mapDialogs(m tg.ModifiedMessagesDialogs) []broadcast.Dialog {
	chats := map[int64]tg.ChatClass{}
	for _, c := range m.GetChats() {
		chats[c.GetID()] = c
	}
	users := map[int64]*tg.User{}
	for _, u := range m.GetUsers() {
		if user, ok := u.(*tg.User); ok {
			users[user.ID] = user
		}
	}

	out := make([]broadcast.Dialog, 0, len(m.GetDialogs()))
	for _, dc := range m.GetDialogs() {
		d, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		switch p := d.Peer.(type) {
		case *tg.PeerChannel:
			out = append(out, channelDialog(p.ChannelID, chats[p.ChannelID]))
		case *tg.PeerChat:
			out = append(out, chatDialog(p.ChatID, chats[p.ChatID]))
		case *tg.PeerUser:
			out = append(out, userDialog(p.UserID, users[p.UserID]))
		}
	}
	return out
}

func channelDialog(id int64, c tg.ChatClass) broadcast.Dialog {
	switch ch := c.(type) {
	case *tg.Channel:
		d := broadcast.Dialog{
			ID:        id,
			Title:     ch.Title,
			Broadcast: ch.Broadcast,
			Megagroup: ch.Megagroup,
			Handle:    &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		}
		if n, ok := ch.GetParticipantsCount(); ok {
			d.ParticipantCount, d.HasParticipantCount = n, true
		}
		return d
	case *tg.ChannelForbidden:
		return broadcast.Dialog{ID: id, Title: ch.Title}
	}
	return broadcast.Dialog{ID: id, Title: fmt.Sprintf("channel %d", id)}
}

func chatDialog(id int64, c tg.ChatClass) broadcast.Dialog {
	switch ch := c.(type) {
	case *tg.Chat:
		return broadcast.Dialog{
			ID:                  id,
			Title:               ch.Title,
			ParticipantCount:    ch.ParticipantsCount,
			HasParticipantCount: true,
			Handle:              &tg.InputPeerChat{ChatID: ch.ID},
		}
	case *tg.ChatForbidden:
		return broadcast.Dialog{ID: id, Title: ch.Title}
	}
	return broadcast.Dialog{ID: id, Title: fmt.Sprintf("chat %d", id)}
}

func userDialog(id int64, u *tg.User) broadcast.Dialog {
	if u == nil {
		return broadcast.Dialog{ID: id, Title: fmt.Sprintf("user %d", id)}
	}
	title := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if title == "" {
		title = u.Username
	}
	return broadcast.Dialog{
		ID:     id,
		Title:  title,
		Handle: &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
	}
}

func randomID() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
