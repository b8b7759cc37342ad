package coordinator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

// CreateRepositoryAnalysisWorkflow creates the fixed five-stage repository
// analysis template and returns the task IDs in stage order:
//
//	scan -> research -> documentation update -> implementation -> testing
//
// Documentation update and implementation require approval. Each task is
// labelled with the team that will run it but left pending, so the scan is
// ready immediately and later stages become ready as their dependencies
// complete.
func (c *Coordinator) CreateRepositoryAnalysisWorkflow(repositoryPath string) []string {
	var ids []string

	scan := c.CreateTask(TaskSpec{
		Kind:              models.TaskKindRepositoryAnalysis,
		Title:             "Initial Repository Scan",
		Description:       fmt.Sprintf("Perform comprehensive analysis of repository at %s", repositoryPath),
		Priority:          1,
		EstimatedDuration: "15-30 minutes",
	})
	c.planTeam(scan.ID, models.TeamRepoAnalyst)
	ids = append(ids, scan.ID)

	research := c.CreateTask(TaskSpec{
		Kind:              models.TaskKindResearchInvestigation,
		Title:             "Research Alternative Approaches",
		Description:       "Investigate alternative implementation approaches based on analysis findings",
		Priority:          2,
		EstimatedDuration: "2-4 hours",
		Dependencies:      []string{scan.ID},
	})
	c.planTeam(research.ID, models.TeamResearchLab)
	ids = append(ids, research.ID)

	docs := c.CreateTask(TaskSpec{
		Kind:              models.TaskKindDocumentationUpdate,
		Title:             "Update Documentation",
		Description:       "Update documentation based on analysis findings and research recommendations",
		Priority:          2,
		EstimatedDuration: "1-2 hours",
		Dependencies:      []string{scan.ID, research.ID},
		RequiresApproval:  true,
	})
	c.planTeam(docs.ID, models.TeamImplementers)
	ids = append(ids, docs.ID)

	impl := c.CreateTask(TaskSpec{
		Kind:              models.TaskKindCodeImplementation,
		Title:             "Implement Recommended Changes",
		Description:       "Implement code changes based on analysis and research findings",
		Priority:          1,
		EstimatedDuration: "2-6 hours",
		Dependencies:      []string{docs.ID},
		RequiresApproval:  true,
	})
	c.planTeam(impl.ID, models.TeamImplementers)
	ids = append(ids, impl.ID)

	testing := c.CreateTask(TaskSpec{
		Kind:              models.TaskKindTestingValidation,
		Title:             "Comprehensive Testing",
		Description:       "Execute comprehensive testing of all changes",
		Priority:          1,
		EstimatedDuration: "1-2 hours",
		Dependencies:      []string{impl.ID},
	})
	c.planTeam(testing.ID, models.TeamImplementers)
	ids = append(ids, testing.ID)

	c.logger.Info("created repository analysis workflow",
		zap.String("repository", repositoryPath),
		zap.Strings("task_ids", ids),
	)
	return ids
}

// planTeam labels a pending task with its intended team without changing status.
func (c *Coordinator) planTeam(id string, team models.Team) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task := c.findActiveLocked(id); task != nil {
		task.AssignedTeam = team
	}
}
