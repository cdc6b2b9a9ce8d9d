package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisExchange keeps stream records in Redis so that every api replica sees
// the same offer, answer and candidates.
//
// Layout per appointment:
//
//	stream:<id>            hash   stream fields
//	stream:<id>:ice:<role> list   JSON candidates in publish order
//	streams:by:<identity>  set    appointment ids
//	stream:<id>:events     pubsub JSON Event
type RedisExchange struct {
	rdb   *redis.Client
	ttl   time.Duration
	clock func() time.Time
}

func NewRedisExchange(rdb *redis.Client, ttl time.Duration) *RedisExchange {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisExchange{rdb: rdb, ttl: ttl, clock: time.Now}
}

func streamKey(id int64) string          { return "stream:" + strconv.FormatInt(id, 10) }
func iceKey(id int64, role Role) string  { return streamKey(id) + ":ice:" + string(role) }
func eventsChannel(id int64) string      { return streamKey(id) + ":events" }
func identityKey(identity string) string { return "streams:by:" + identity }

func (r *RedisExchange) StartStream(ctx context.Context, req StartRequest) (Stream, error) {
	if err := validateStart(req); err != nil {
		return Stream{}, err
	}
	s := Stream{
		AppointmentID: req.AppointmentID,
		StreamID:      uuid.NewString(),
		Status:        StreamActive,
		ProviderName:  req.ProviderName,
		CustomerName:  req.CustomerName,
		StartedAt:     r.clock().UTC(),
	}
	key := streamKey(req.AppointmentID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key, iceKey(req.AppointmentID, RoleProvider), iceKey(req.AppointmentID, RoleCustomer))
		p.HSet(ctx, key, map[string]any{
			"stream_id":     s.StreamID,
			"status":        string(s.Status),
			"provider_name": s.ProviderName,
			"customer_name": s.CustomerName,
			"started_at":    s.StartedAt.Format(time.RFC3339Nano),
		})
		p.Expire(ctx, key, r.ttl)
		for _, who := range []string{s.ProviderName, s.CustomerName} {
			if who == "" {
				continue
			}
			p.SAdd(ctx, identityKey(who), req.AppointmentID)
			p.Expire(ctx, identityKey(who), r.ttl)
		}
		return nil
	})
	if err != nil {
		return Stream{}, fmt.Errorf("start stream: %w", err)
	}
	r.publish(ctx, Event{AppointmentID: req.AppointmentID, Kind: EventStarted})
	return s, nil
}

func (r *RedisExchange) GetStream(ctx context.Context, appointmentID int64) (Stream, error) {
	vals, err := r.rdb.HGetAll(ctx, streamKey(appointmentID)).Result()
	if err != nil {
		return Stream{}, err
	}
	if len(vals) == 0 {
		return Stream{}, ErrStreamNotFound
	}
	return streamFromHash(appointmentID, vals), nil
}

func streamFromHash(id int64, vals map[string]string) Stream {
	s := Stream{
		AppointmentID: id,
		StreamID:      vals["stream_id"],
		Status:        StreamStatus(vals["status"]),
		Offer:         vals["offer"],
		Answer:        vals["answer"],
		ProviderName:  vals["provider_name"],
		CustomerName:  vals["customer_name"],
	}
	if t, err := time.Parse(time.RFC3339Nano, vals["started_at"]); err == nil {
		s.StartedAt = t
	}
	return s
}

func (r *RedisExchange) exists(ctx context.Context, appointmentID int64) error {
	n, err := r.rdb.Exists(ctx, streamKey(appointmentID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStreamNotFound
	}
	return nil
}

func (r *RedisExchange) SetStatus(ctx context.Context, appointmentID int64, status StreamStatus) error {
	if !status.Valid() {
		return ErrInvalid
	}
	if err := r.exists(ctx, appointmentID); err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, streamKey(appointmentID), "status", string(status)).Err(); err != nil {
		return err
	}
	r.publish(ctx, Event{AppointmentID: appointmentID, Kind: EventStatus})
	return nil
}

func (r *RedisExchange) StopStream(ctx context.Context, appointmentID int64) error {
	key := streamKey(appointmentID)
	names, err := r.rdb.HMGet(ctx, key, "provider_name", "customer_name").Result()
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key, iceKey(appointmentID, RoleProvider), iceKey(appointmentID, RoleCustomer))
		for _, n := range names {
			if who, ok := n.(string); ok && who != "" {
				p.SRem(ctx, identityKey(who), appointmentID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	r.publish(ctx, Event{AppointmentID: appointmentID, Kind: EventStopped})
	return nil
}

func (r *RedisExchange) PublishOffer(ctx context.Context, appointmentID int64, sdp string) error {
	return r.setSDP(ctx, appointmentID, "offer", sdp, EventOffer)
}

func (r *RedisExchange) PublishAnswer(ctx context.Context, appointmentID int64, sdp string) error {
	return r.setSDP(ctx, appointmentID, "answer", sdp, EventAnswer)
}

func (r *RedisExchange) setSDP(ctx context.Context, appointmentID int64, field, sdp string, kind EventKind) error {
	if sdp == "" {
		return ErrInvalid
	}
	if err := r.exists(ctx, appointmentID); err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, streamKey(appointmentID), field, sdp).Err(); err != nil {
		return err
	}
	r.publish(ctx, Event{AppointmentID: appointmentID, Kind: kind})
	return nil
}

func (r *RedisExchange) Offer(ctx context.Context, appointmentID int64) (string, error) {
	return r.getSDP(ctx, appointmentID, "offer")
}

func (r *RedisExchange) Answer(ctx context.Context, appointmentID int64) (string, error) {
	return r.getSDP(ctx, appointmentID, "answer")
}

func (r *RedisExchange) getSDP(ctx context.Context, appointmentID int64, field string) (string, error) {
	v, err := r.rdb.HGet(ctx, streamKey(appointmentID), field).Result()
	if errors.Is(err, redis.Nil) || (err == nil && v == "") {
		return "", ErrNotReady
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *RedisExchange) PublishCandidate(ctx context.Context, appointmentID int64, c Candidate) error {
	if err := validateCandidate(c); err != nil {
		return err
	}
	if err := r.exists(ctx, appointmentID); err != nil {
		return err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	key := iceKey(appointmentID, c.Role)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(ctx, Event{AppointmentID: appointmentID, Kind: EventCandidate, Role: c.Role})
	return nil
}

func (r *RedisExchange) Candidates(ctx context.Context, appointmentID int64, role Role) ([]Candidate, error) {
	if err := r.exists(ctx, appointmentID); err != nil {
		return nil, err
	}
	raw, err := r.rdb.LRange(ctx, iceKey(appointmentID, role), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(raw))
	for _, s := range raw {
		var c Candidate
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *RedisExchange) ActiveStreams(ctx context.Context, identity string) ([]ActiveStream, error) {
	members, err := r.rdb.SMembers(ctx, identityKey(identity)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, streamKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ActiveStream, 0, len(ids))
	for i, id := range ids {
		vals := cmds[i].Val()
		if len(vals) == 0 {
			// expired record; drop the dangling index entry
			r.rdb.SRem(ctx, identityKey(identity), id)
			continue
		}
		s := streamFromHash(id, vals)
		if s.Status == StreamInactive {
			continue
		}
		out = append(out, ActiveStream{
			AppointmentID: id,
			ProviderName:  s.ProviderName,
			CustomerName:  s.CustomerName,
			Status:        s.Status,
			StreamID:      s.StreamID,
		})
	}
	return out, nil
}

func (r *RedisExchange) publish(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// Notifications are advisory; pollers still converge without them.
	_ = r.rdb.Publish(ctx, eventsChannel(ev.AppointmentID), b).Err()
}

func (r *RedisExchange) Watch(ctx context.Context, appointmentID int64) (<-chan Event, error) {
	sub := r.rdb.Subscribe(ctx, eventsChannel(appointmentID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, nil
}
