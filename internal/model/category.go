package model

import "time"

type Category struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Slug        string    `gorm:"type:varchar(120);uniqueIndex;not null" json:"slug"`
	Description string    `gorm:"type:text" json:"description"`
	Icon        string    `gorm:"type:varchar(50)" json:"icon"`
	SortOrder   int       `gorm:"not null;default:0" json:"order"`
	IsActive    bool      `gorm:"index;not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Category) TableName() string {
	return "categories"
}

// DefaultCategories 系统固定分类
func DefaultCategories() []Category {
	return []Category{
		{Name: "Plantas", Slug: "plantas", Description: "Plantas ornamentales, frutales, suculentas y más", Icon: "plant", SortOrder: 1, IsActive: true},
		{Name: "Semillas", Slug: "semillas", Description: "Semillas de flores, hortalizas, árboles y plantas", Icon: "seed", SortOrder: 2, IsActive: true},
		{Name: "Insumos", Slug: "insumos", Description: "Tierra, fertilizantes, abonos y sustratos", Icon: "fertilizer", SortOrder: 3, IsActive: true},
		{Name: "Herramientas y Accesorios", Slug: "herramientas-y-accesorios", Description: "Macetas, herramientas de jardín y accesorios", Icon: "tools", SortOrder: 4, IsActive: true},
	}
}
