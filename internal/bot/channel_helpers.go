package bot

// tryEnqueueTrigger ставит символ в очередь внеочередной сверки.
// Возвращает true, если символ поставлен в очередь.
func tryEnqueueTrigger(ch chan string, symbol string) bool {
	if ch == nil || symbol == "" {
		return false
	}

	select {
	case ch <- symbol:
		return true
	default:
		// Очередь полна: плановый цикл всё равно сверит символ
		RecordBufferOverflow("reconcile_trigger")
		return false
	}
}
