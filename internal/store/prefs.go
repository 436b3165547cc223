package store

import (
	"context"

	"remindd/internal/notif"
)

func (s *sqlStore) FetchAll(ctx context.Context) ([]notif.Preferences, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT user_id, enabled, morning_time, noon_time, afternoon_time,
		        evening_time, night_time, channel_enabled, destination,
		        start_hour, end_hour
		 FROM user_preferences ORDER BY user_id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notif.Preferences
	for rows.Next() {
		var (
			p                                        notif.Preferences
			morning, noon, afternoon, evening, night string
		)
		if err := rows.Scan(&p.UserID, &p.Enabled, &morning, &noon, &afternoon,
			&evening, &night, &p.ChannelEnabled, &p.Destination,
			&p.StartHour, &p.EndHour); err != nil {
			return nil, err
		}
		p.SlotTimes = map[notif.Slot]string{
			notif.SlotMorning:   morning,
			notif.SlotNoon:      noon,
			notif.SlotAfternoon: afternoon,
			notif.SlotEvening:   evening,
			notif.SlotNight:     night,
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) Upsert(ctx context.Context, p notif.Preferences) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO user_preferences(user_id, enabled, morning_time, noon_time,
		     afternoon_time, evening_time, night_time, channel_enabled,
		     destination, start_hour, end_hour)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     enabled = excluded.enabled,
		     morning_time = excluded.morning_time,
		     noon_time = excluded.noon_time,
		     afternoon_time = excluded.afternoon_time,
		     evening_time = excluded.evening_time,
		     night_time = excluded.night_time,
		     channel_enabled = excluded.channel_enabled,
		     destination = excluded.destination,
		     start_hour = excluded.start_hour,
		     end_hour = excluded.end_hour`),
		p.UserID, p.Enabled, p.SlotTime(notif.SlotMorning), p.SlotTime(notif.SlotNoon),
		p.SlotTime(notif.SlotAfternoon), p.SlotTime(notif.SlotEvening),
		p.SlotTime(notif.SlotNight), p.ChannelEnabled, p.Destination,
		p.StartHour, p.EndHour,
	)
	return err
}

func (s *sqlStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM user_preferences WHERE user_id = ?`), userID)
	return err
}
