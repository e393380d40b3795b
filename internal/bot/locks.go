package bot

import "sync"

// LockRegistry выдаёт по одному мьютексу на торговый символ
//
// Все операции жизненного цикла позиции (тик монитора, ручное закрытие,
// реентри, перенос SL) сериализуются локом своего символа; операции по
// разным символам идут полностью параллельно.
//
// Локи создаются лениво и никогда не удаляются - вселенная символов мала
// и ограничена, рост map'ы не проблема. Реестр внедряется явно при
// конструировании компонентов, а не живёт процессным глобалом: так монитор
// тестируется изолированно по символу.
//
// Лок нереентерабелен: горутина, держащая лок символа, не должна брать
// его повторно.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockRegistry создаёт пустой реестр
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		locks: make(map[string]*sync.Mutex),
	}
}

// Get возвращает лок символа, создавая его при первом обращении
func (r *LockRegistry) Get(symbol string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lock, ok := r.locks[symbol]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	r.locks[symbol] = lock
	return lock
}

// Size возвращает количество созданных локов (для мониторинга)
func (r *LockRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
