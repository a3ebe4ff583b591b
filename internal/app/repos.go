package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
)

type Repos struct {
	Sessions  repos.ResearchSessionRepo
	Steps     repos.ResearchStepRepo
	Documents repos.ResearchDocumentRepo
	Runs      repos.ResearchRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Sessions:  repos.NewResearchSessionRepo(db, log),
		Steps:     repos.NewResearchStepRepo(db, log),
		Documents: repos.NewResearchDocumentRepo(db, log),
		Runs:      repos.NewResearchRunRepo(db, log),
	}
}
