package bot

import "context"

// PermissiveConfirmations пропускает любой запрос.
//
// Используется, пока не подключён внешний источник тренда/моментума:
// гейт реентри тогда ограничен только счётчиком, кулдауном и отклонением цены.
type PermissiveConfirmations struct{}

func (PermissiveConfirmations) ConfirmTrend(ctx context.Context, symbol string) bool {
	return true
}

func (PermissiveConfirmations) ConfirmMomentum(ctx context.Context, symbol string) bool {
	return true
}
