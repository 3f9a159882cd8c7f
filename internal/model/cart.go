package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidProductID = errors.New("商品ID不合法")
	ErrInvalidQuantity  = errors.New("数量必须大于0")
	ErrLineNotInCart    = errors.New("商品不在购物车中")
)

// CartLine 购物车中的一行，不保存价格，读取时按商品当前价格计算
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func NewCartLine(productID int64, quantity int) (CartLine, error) {
	if productID <= 0 {
		return CartLine{}, ErrInvalidProductID
	}
	if quantity < 1 {
		return CartLine{}, ErrInvalidQuantity
	}
	return CartLine{ProductID: productID, Quantity: quantity}, nil
}

// CartLines 有序的购物车行，同一商品只出现一次
type CartLines []CartLine

func (l CartLines) Value() (driver.Value, error) {
	if l == nil {
		l = CartLines{}
	}
	b, err := json.Marshal([]CartLine(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *CartLines) Scan(src any) error {
	var out []CartLine
	if err := scanJSON(src, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

func (l CartLines) index(productID int64) int {
	for i, line := range l {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (l CartLines) Find(productID int64) (CartLine, bool) {
	if i := l.index(productID); i >= 0 {
		return l[i], true
	}
	return CartLine{}, false
}

// Add 已存在的商品累加数量，否则追加到末尾
func (l CartLines) Add(line CartLine) CartLines {
	if i := l.index(line.ProductID); i >= 0 {
		out := append(CartLines(nil), l...)
		out[i].Quantity += line.Quantity
		return out
	}
	return append(append(CartLines(nil), l...), line)
}

func (l CartLines) SetQuantity(productID int64, quantity int) (CartLines, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	i := l.index(productID)
	if i < 0 {
		return nil, ErrLineNotInCart
	}
	out := append(CartLines(nil), l...)
	out[i].Quantity = quantity
	return out, nil
}

func (l CartLines) Remove(productID int64) (CartLines, error) {
	i := l.index(productID)
	if i < 0 {
		return nil, ErrLineNotInCart
	}
	out := make(CartLines, 0, len(l)-1)
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...), nil
}

func (l CartLines) TotalItems() int {
	n := 0
	for _, line := range l {
		n += line.Quantity
	}
	return n
}

func (l CartLines) ProductIDs() []int64 {
	ids := make([]int64, 0, len(l))
	for _, line := range l {
		ids = append(ids, line.ProductID)
	}
	return ids
}

type Cart struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Items     CartLines `gorm:"type:text;not null" json:"items"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Cart) TableName() string {
	return "carts"
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
