package model

// All 需要迁移的全部实体
func All() []any {
	return []any{
		&User{},
		&Category{},
		&Product{},
		&Cart{},
		&Order{},
		&Transaction{},
		&Exchange{},
		&ExchangeOffer{},
		&Notification{},
		&Subscription{},
		&OutboxMessage{},
	}
}
