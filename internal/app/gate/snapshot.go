package gate

import (
	"sort"
	"strings"

	"ticketgate/internal/domain/ticket"
)

// Snapshot — снимок билетов в памяти с поиском по коду за O(1).
// Не потокобезопасен: доступ только под мьютексом Gate.
type Snapshot struct {
	byCode map[string]*ticket.Ticket
	byID   map[string]*ticket.Ticket
}

func newSnapshot(tickets []ticket.Ticket) *Snapshot {
	s := &Snapshot{
		byCode: make(map[string]*ticket.Ticket, len(tickets)),
		byID:   make(map[string]*ticket.Ticket, len(tickets)),
	}
	for i := range tickets {
		t := tickets[i]
		s.byCode[ticket.NormalizeCode(t.Code)] = &t
		s.byID[t.ID] = &t
	}
	return s
}

// Find ищет билет по нормализованному коду.
func (s *Snapshot) Find(code string) (ticket.Ticket, bool) {
	if code == "" {
		return ticket.Ticket{}, false
	}
	t, ok := s.byCode[code]
	if !ok {
		return ticket.Ticket{}, false
	}
	return *t, true
}

func (s *Snapshot) FindByID(id string) (ticket.Ticket, bool) {
	t, ok := s.byID[id]
	if !ok {
		return ticket.Ticket{}, false
	}
	return *t, true
}

// MarkUsedLocally переводит билет в Used. Обратного перехода нет.
func (s *Snapshot) MarkUsedLocally(id string) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	t.Status = ticket.StatusUsed
	return true
}

// Search — поиск без учета регистра по имени и email владельца.
func (s *Snapshot) Search(query string, limit int) []ticket.Ticket {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var found []ticket.Ticket
	for _, t := range s.byID {
		if strings.Contains(strings.ToLower(t.OwnerName), q) ||
			strings.Contains(strings.ToLower(t.OwnerEmail), q) {
			found = append(found, *t)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].OwnerName != found[j].OwnerName {
			return found[i].OwnerName < found[j].OwnerName
		}
		return found[i].Code < found[j].Code
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found
}

func (s *Snapshot) Len() int {
	return len(s.byID)
}

// merge строит новый снимок из загруженного с авторитета.
// Локальный Used сильнее загруженного Valid. withRecords: id билета с локальными записями,
// значение true, если среди них есть Pending. Билет, отсутствующий в загрузке,
// сохраняется только пока его запись ждет отправки.
func merge(local *Snapshot, fetched []ticket.Ticket, withRecords map[string]bool) (merged []ticket.Ticket, preserved int) {
	seen := make(map[string]struct{}, len(fetched))
	merged = make([]ticket.Ticket, 0, len(fetched))

	for _, t := range fetched {
		seen[t.ID] = struct{}{}
		if t.Status != ticket.StatusUsed {
			lt, ok := local.FindByID(t.ID)
			_, hasRecords := withRecords[t.ID]
			if (ok && lt.IsUsed()) || hasRecords {
				t.Status = ticket.StatusUsed
				preserved++
			}
		}
		merged = append(merged, t)
	}

	for id, pending := range withRecords {
		if _, ok := seen[id]; ok || !pending {
			continue
		}
		if lt, ok := local.FindByID(id); ok {
			lt.Status = ticket.StatusUsed
			merged = append(merged, lt)
			preserved++
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Code < merged[j].Code })
	return merged, preserved
}
