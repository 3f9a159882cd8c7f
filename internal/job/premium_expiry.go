package job

import (
	"context"
	"log"
	"time"

	"sproutmarket/internal/config"
	"sproutmarket/internal/repository"

	"gorm.io/gorm"
)

// PremiumExpiryJob 兜底任务：webhook 丢失时，到期超过宽限期的会员自动降级
type PremiumExpiryJob struct {
	db        *gorm.DB
	userRepo  *repository.UserRepository
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewPremiumExpiryJob(db *gorm.DB, cfg *config.Config) *PremiumExpiryJob {
	return &PremiumExpiryJob{
		db:        db,
		userRepo:  repository.NewUserRepository(db),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  10 * time.Minute,
		batchSize: 100,
		now:       time.Now,
	}
}

func (j *PremiumExpiryJob) Start(ctx context.Context) {
	log.Println("[PremiumExpiryJob] 会员到期任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PremiumExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PremiumExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.expire(ctx)
		}
	}
}

func (j *PremiumExpiryJob) Stop() {
	close(j.stopCh)
}

// expire 分批降级，返回总影响行数
func (j *PremiumExpiryJob) expire(ctx context.Context) int64 {
	grace := time.Duration(j.cfg.Business.PremiumGraceHours) * time.Hour
	before := j.now().Add(-grace)

	var total int64
	for {
		n, err := j.userRepo.ExpirePremium(ctx, before, j.batchSize)
		if err != nil {
			log.Printf("[PremiumExpiryJob] 会员降级失败: %v", err)
			return total
		}
		total += n
		if n < int64(j.batchSize) {
			break
		}
	}
	if total > 0 {
		log.Printf("[PremiumExpiryJob] 已降级 %d 个到期会员", total)
	}
	return total
}
