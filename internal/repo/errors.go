package repo

import "errors"

var (
	// ErrNotFound — запись по токену/id не найдена.
	ErrNotFound = errors.New("node not found")
	// ErrBadRequest — некорректный вход (мусорный MAC и т.п.).
	ErrBadRequest = errors.New("bad request")
	// ErrBadToken — неизвестный или уже недействительный monitoring-токен.
	ErrBadToken = errors.New("invalid or unknown monitoring token")
	// ErrMailNotFound — письмо исчезло из очереди между операциями.
	ErrMailNotFound = errors.New("mail not found")
)

// ConflictError — нарушение уникальности; Field называет первое
// нарушенное поле в порядке приоритета: hostname, key, mac.
// Пустой Field — гонка, пойманная уникальным индексом.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return "uniqueness violation"
	}
	return "already in use: " + e.Field
}
