package valueobject

import "errors"

// IndexMode определяет, как обслуживается индекс снимков
type IndexMode string

const (
	// IndexModeOnDemand - индекс собирается из живого листинга на каждый запрос
	IndexModeOnDemand IndexMode = "on_demand"
	// IndexModePrecomputed - индекс собирается по расписанию и отдается как есть
	IndexModePrecomputed IndexMode = "precomputed"
)

func (m IndexMode) Validate() error {
	switch m {
	case IndexModeOnDemand, IndexModePrecomputed:
		return nil
	default:
		return errors.New("invalid index mode")
	}
}

func (m IndexMode) String() string {
	return string(m)
}
