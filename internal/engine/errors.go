// Package engine реализует дельта-нейтральный движок funding-арбитража:
// оценку стоимости входа, построение планов, оптимизацию размера,
// лестничную аллокацию капитала, парное исполнение ордеров и
// восстановление несимметричных позиций.
package engine

import (
	"errors"
	"fmt"
)

// Классы ошибок цикла. Принцип: пропустить возможность и продолжить
// всегда предпочтительнее прерывания цикла, кроме риска целостности ног.

// SkipError - возможность пропущена по условиям отбора
// (нет адаптера, нет ликвидности, размер ниже минимума).
// Цикл продолжает работу со следующей возможностью.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "opportunity skipped: " + e.Reason
}

// Skip создаёт SkipError
func Skip(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip проверяет класс ошибки
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

// RecoverableError - сбой исполнения одной возможности
// (ошибка размещения, недостаток залога, таймаут исполнения).
// Капитал остаётся доступным следующим возможностям.
type RecoverableError struct {
	Op  string
	Err error
}

func (e *RecoverableError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// Recoverable оборачивает ошибку исполнения
func Recoverable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Op: op, Err: err}
}

// IsRecoverable проверяет класс ошибки
func IsRecoverable(err error) bool {
	var re *RecoverableError
	return errors.As(err, &re)
}

// LegIntegrityError - нарушение парности ног, требующее ручного
// вмешательства: не удалось закрыть непарную ногу, осталась
// направленная экспозиция. Критическая severity.
type LegIntegrityError struct {
	Symbol string
	Venue  string
	Err    error
}

func (e *LegIntegrityError) Error() string {
	return fmt.Sprintf("leg integrity violation on %s %s: %v", e.Venue, e.Symbol, e.Err)
}

func (e *LegIntegrityError) Unwrap() error {
	return e.Err
}

// IsLegIntegrity проверяет класс ошибки
func IsLegIntegrity(err error) bool {
	var le *LegIntegrityError
	return errors.As(err, &le)
}
