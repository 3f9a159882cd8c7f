package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MaxImages 每个商品 / 交换 / 报价最多三张图
const MaxImages = 3

// ImageSlots 固定三个图片槽位，下标 0-2，空串表示该槽位为空
type ImageSlots [MaxImages]string

func checkSlot(i int) error {
	if i < 0 || i >= MaxImages {
		return fmt.Errorf("图片槽位越界: %d", i)
	}
	return nil
}

func (s *ImageSlots) Get(i int) (string, bool) {
	if checkSlot(i) != nil || s[i] == "" {
		return "", false
	}
	return s[i], true
}

// Set 写入槽位，返回被替换掉的旧地址
func (s *ImageSlots) Set(i int, url string) (string, error) {
	if err := checkSlot(i); err != nil {
		return "", err
	}
	old := s[i]
	s[i] = url
	return old, nil
}

// Clear 清空槽位，返回被清掉的旧地址
func (s *ImageSlots) Clear(i int) (string, error) {
	return s.Set(i, "")
}

// URLs 按槽位顺序返回非空地址
func (s ImageSlots) URLs() []string {
	urls := make([]string, 0, MaxImages)
	for _, u := range s {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Main 主图，即第一个非空槽位
func (s ImageSlots) Main() string {
	for _, u := range s {
		if u != "" {
			return u
		}
	}
	return ""
}

func (s ImageSlots) Value() (driver.Value, error) {
	b, err := json.Marshal([MaxImages]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *ImageSlots) Scan(src any) error {
	var arr [MaxImages]string
	if err := scanJSON(src, &arr); err != nil {
		return err
	}
	*s = arr
	return nil
}

func (s ImageSlots) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.URLs())
}

func (s *ImageSlots) UnmarshalJSON(b []byte) error {
	var urls []string
	if err := json.Unmarshal(b, &urls); err != nil {
		return err
	}
	var out ImageSlots
	for i := 0; i < len(urls) && i < MaxImages; i++ {
		out[i] = urls[i]
	}
	*s = out
	return nil
}
