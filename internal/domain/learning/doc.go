// Package learning содержит доменную модель прогресса ученика.
//
// Пакет определяет:
//
//   - Сущности: Attempt, LessonProgress, TopicProgress, OverallProgress,
//     Streak, DailyStat, VocabularyProgress
//   - Чистые движки: ScoreCalculator, XP/Level engine, правило Touch для серии
//   - Конечные автоматы статусов урока и темы
//   - Порты: ContentCatalog, SpeechAnalyzer, ConversationPartner
//   - Интерфейсы репозиториев и UnitOfWork
//
// # Архитектурные принципы
//
//  1. Пакет не знает о способе хранения: транзакции и блокировки строк
//     обеспечивает реализация UnitOfWork в infrastructure.
//  2. Уровень никогда не хранится отдельно от XP: OverallProgress.Award
//     пересчитывает его после каждого начисления.
//  3. Счётчик пройденных уроков темы всегда пересчитывается целиком
//     (TopicProgress.Recount), а не инкрементируется.
//
// # Порядок завершения попытки
//
// Внутри одной транзакции изменения применяются строго в порядке:
// попытка → LessonProgress (и разблокировка следующего урока) →
// TopicProgress → Streak → XP/Level → DailyStat. Бонус за серию
// зависит от нового значения серии, поэтому Streak идёт раньше XP.
package learning
