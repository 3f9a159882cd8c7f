package service

import (
	"context"
	"errors"
	"log"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/infrastructure/storage"
	"sproutmarket/internal/model"
)

// ImageChanges 按图片位（0-2）描述的上传与清除
type ImageChanges struct {
	Uploads map[int]*storage.File
	Clear   []int
}

func (c ImageChanges) empty() bool {
	return len(c.Uploads) == 0 && len(c.Clear) == 0
}

type imageKeeper struct {
	store    storage.ObjectStore
	maxBytes int64
}

func (k imageKeeper) validate(c ImageChanges) error {
	for slot, f := range c.Uploads {
		if slot < 0 || slot >= model.MaxImages {
			return apperr.Validation("image", "图片位只能是 1 到 3")
		}
		if _, err := storage.ValidateImage(f, k.maxBytes); err != nil {
			return ErrInvalidImage.WithField(imageField(slot)).Msg("%s", err.Error())
		}
	}
	for _, slot := range c.Clear {
		if slot < 0 || slot >= model.MaxImages {
			return apperr.Validation("image", "图片位只能是 1 到 3")
		}
	}
	return nil
}

func imageField(slot int) string {
	return "image" + string(rune('1'+slot))
}

// upload 上传全部新图，任一失败时删除本次已上传的对象
func (k imageKeeper) upload(ctx context.Context, folder string, files map[int]*storage.File) (map[int]string, error) {
	urls := make(map[int]string, len(files))
	for slot := 0; slot < model.MaxImages; slot++ {
		f, ok := files[slot]
		if !ok {
			continue
		}
		url, err := k.store.Upload(ctx, folder, f)
		if err != nil {
			k.discard(ctx, mapValues(urls))
			if errors.Is(err, storage.ErrUnsupportedImage) || errors.Is(err, storage.ErrImageTooLarge) || errors.Is(err, storage.ErrEmptyImage) {
				return nil, ErrInvalidImage.WithField(imageField(slot)).Msg("%s", err.Error())
			}
			return nil, ErrImageUploadFailed.WithField(imageField(slot)).Wrap(err)
		}
		urls[slot] = url
	}
	return urls, nil
}

// apply 上传新图并更新图片位，返回被替换或清除的旧地址，由调用方在提交后删除
func (k imageKeeper) apply(ctx context.Context, folder string, slots *model.ImageSlots, c ImageChanges) ([]string, []string, error) {
	if c.empty() {
		return nil, nil, nil
	}
	urls, err := k.upload(ctx, folder, c.Uploads)
	if err != nil {
		return nil, nil, err
	}
	var stale []string
	for _, slot := range c.Clear {
		if _, replaced := urls[slot]; replaced {
			continue
		}
		if old, _ := slots.Clear(slot); old != "" {
			stale = append(stale, old)
		}
	}
	for slot, url := range urls {
		if old, _ := slots.Set(slot, url); old != "" {
			stale = append(stale, old)
		}
	}
	return stale, mapValues(urls), nil
}

// discard 尽力删除对象，失败只记日志
func (k imageKeeper) discard(ctx context.Context, urls []string) {
	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := k.store.Delete(ctx, url); err != nil {
			log.Printf("[Storage] 删除图片失败: url=%s, err=%v", url, err)
		}
	}
}

func mapValues(m map[int]string) []string {
	out := make([]string, 0, len(m))
	for i := 0; i < model.MaxImages; i++ {
		if v, ok := m[i]; ok {
			out = append(out, v)
		}
	}
	return out
}

// createWithImages 先落库再上传图片；上传失败时删除刚创建的记录
func createWithImages(ctx context.Context, k imageKeeper, folder string, files map[int]*storage.File,
	create func() error, saveImages func(model.ImageSlots) error, rollback func() error) (model.ImageSlots, error) {

	if err := create(); err != nil {
		return model.ImageSlots{}, err
	}

	urls, err := k.upload(ctx, folder, files)
	if err == nil {
		var slots model.ImageSlots
		for slot, url := range urls {
			if _, serr := slots.Set(slot, url); serr != nil {
				err = serr
				break
			}
		}
		if err == nil {
			if err = saveImages(slots); err == nil {
				return slots, nil
			}
			k.discard(ctx, mapValues(urls))
		}
	}

	if rerr := rollback(); rerr != nil {
		log.Printf("[Storage] 图片上传失败后删除记录失败: %v", rerr)
	}
	return model.ImageSlots{}, err
}
