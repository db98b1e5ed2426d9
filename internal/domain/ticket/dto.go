package ticket

import "time"

// DateLayout — формат операционной даты (день мероприятия).
const DateLayout = "2006-01-02"

// Snapshot — набор билетов на операционную дату, выдаваемый авторитетом.
type Snapshot struct {
	OperatingDate string    `json:"operating_date"`
	GeneratedAt   time.Time `json:"generated_at"`
	Tickets       []Ticket  `json:"tickets"`
}

// ParseDate проверяет операционную дату.
func ParseDate(date string) (time.Time, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}
