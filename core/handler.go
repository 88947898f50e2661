package core

// OnResultHandler consumes the result of a successful transfer.
type OnResultHandler func(result *Result) error

// MergeOnResultHandlers runs handlers in order and stops at the first error.
func MergeOnResultHandlers(handlers ...OnResultHandler) OnResultHandler {
	return func(result *Result) error {
		for _, handler := range handlers {
			if handler == nil {
				continue
			}
			if err := handler(result); err != nil {
				return err
			}
		}
		return nil
	}
}
